package metrics

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/ocr/jobs":                         "/v1/ocr/jobs",
		"/v1/ocr/jobs/":                        "/v1/ocr/jobs/",
		"/v1/ocr/jobs/3f2a":                    "/v1/ocr/jobs/{job_id}",
		"/v1/ocr/jobs/3f2a/detect-result":      "/v1/ocr/jobs/{job_id}/detect-result",
		"/v1/ocr/jobs/3f2a/result/export.xlsx": "/v1/ocr/jobs/{job_id}/result/export.xlsx",
		"/healthz":                             "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
