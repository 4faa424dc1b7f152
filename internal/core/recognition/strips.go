package recognition

import "math"

const (
	DefaultSingleLineMaxHeight = 56
	DefaultLineHeight          = 32
	DefaultLineOverlap         = 4
	DefaultMinStripHeight      = 8
)

// SplitConfig controls tall-region splitting. Heights are in original page pixels,
// except MinStripHeight which applies after mapping into crop space.
type SplitConfig struct {
	SingleLineMaxHeight int `yaml:"single_line_max_height"`
	LineHeight          int `yaml:"line_height"`
	LineOverlap         int `yaml:"line_overlap"`
	MinStripHeight      int `yaml:"min_strip_height"`
}

func DefaultSplitConfig() SplitConfig {
	return SplitConfig{
		SingleLineMaxHeight: DefaultSingleLineMaxHeight,
		LineHeight:          DefaultLineHeight,
		LineOverlap:         DefaultLineOverlap,
		MinStripHeight:      DefaultMinStripHeight,
	}
}

func (c SplitConfig) normalize() SplitConfig {
	d := DefaultSplitConfig()
	if c.SingleLineMaxHeight <= 0 {
		c.SingleLineMaxHeight = d.SingleLineMaxHeight
	}
	if c.LineHeight <= 0 {
		c.LineHeight = d.LineHeight
	}
	if c.LineOverlap < 0 || c.LineOverlap >= c.LineHeight {
		c.LineOverlap = min(d.LineOverlap, c.LineHeight-1)
	}
	if c.MinStripHeight <= 0 {
		c.MinStripHeight = d.MinStripHeight
	}
	return c
}

// Strip is a vertical range [Top, Bottom) in crop coordinates, relative to the crop origin.
type Strip struct {
	Top    int
	Bottom int
}

func (s Strip) Height() int { return s.Bottom - s.Top }

// PlanStrips returns the strips a region should be recognized as. A nil result means the
// crop is recognized whole: either the region is a single line or every strip was too thin.
func (c SplitConfig) PlanStrips(originalHeight, cropHeight int) []Strip {
	c = c.normalize()
	if cropHeight <= 0 {
		return nil
	}
	if originalHeight <= 0 {
		originalHeight = cropHeight
	}
	if originalHeight <= c.SingleLineMaxHeight {
		return nil
	}

	num := int(math.Round(float64(originalHeight) / float64(c.LineHeight)))
	if num < 1 {
		num = 1
	}
	step := c.LineHeight - c.LineOverlap
	ratio := float64(cropHeight) / float64(originalHeight)

	strips := make([]Strip, 0, num)
	for i := 0; i < num; i++ {
		top := i * step
		bottom := min(top+c.LineHeight, originalHeight)
		if i == num-1 {
			bottom = originalHeight
		}
		mapped := Strip{
			Top:    int(float64(top) * ratio),
			Bottom: min(int(float64(bottom)*ratio), cropHeight),
		}
		if mapped.Height() < c.MinStripHeight {
			continue
		}
		strips = append(strips, mapped)
	}
	if len(strips) == 0 {
		return nil
	}
	return strips
}
