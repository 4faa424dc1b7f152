package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kirillkom/docscan/internal/core/domain"
)

const ContentType = "application/json"

func EncodeEnvelope(env domain.TaskEnvelope) ([]byte, error) {
	if err := validateEnvelope(env); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal task envelope: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope parses a queue message. Malformed messages are invalid input and must not be redelivered.
func DecodeEnvelope(raw []byte) (domain.TaskEnvelope, error) {
	var env domain.TaskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.TaskEnvelope{}, domain.WrapError(domain.ErrInvalidInput, "decode task envelope", err)
	}
	if err := validateEnvelope(env); err != nil {
		return domain.TaskEnvelope{}, err
	}
	return env, nil
}

func validateEnvelope(env domain.TaskEnvelope) error {
	if strings.TrimSpace(env.JobID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate task envelope", fmt.Errorf("job_id is required"))
	}
	if !env.Task.Valid() {
		return domain.WrapError(domain.ErrInvalidInput, "validate task envelope", fmt.Errorf("unknown task %q", env.Task))
	}
	return nil
}
