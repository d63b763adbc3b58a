package inference

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kirillkom/heritage-ocr/internal/core/domain"
)

var (
	detectionBlock = regexp.MustCompile(`(?s)<\|ref\|>(?P<label>.*?)<\|/ref\|>\s*<\|det\|>(?P<coords>.*?)<\|/det\|>`)
	controlToken   = regexp.MustCompile(`<\|.*?\|>`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

var fullWidthMap = strings.NewReplacer(
	"，", ",",
	"：", ":",
	"【", "[",
	"】", "]",
	"（", "(",
	"）", ")",
	"、", ",",
	"－", "-",
)

// parseGrounded splits model output into plain text and ordered spans. The
// text of a span is whatever follows its detection block up to the next one.
// Coordinates are on a 0..999 grid and are scaled to width x height.
func parseGrounded(raw string, width, height int) (string, []domain.TextSpan) {
	labelIdx := detectionBlock.SubexpIndex("label")
	coordsIdx := detectionBlock.SubexpIndex("coords")
	locs := detectionBlock.FindAllStringSubmatchIndex(raw, -1)

	if len(locs) == 0 {
		text := cleanText(raw)
		if text == "" {
			return "", []domain.TextSpan{}
		}
		return text, []domain.TextSpan{{
			Text:   text,
			Bounds: domain.Region{Width: width, Height: height},
		}}
	}

	var plain strings.Builder
	plain.WriteString(raw[:locs[0][0]])
	spans := make([]domain.TextSpan, 0, len(locs))
	for i, loc := range locs {
		next := len(raw)
		if i+1 < len(locs) {
			next = locs[i+1][0]
		}
		body := raw[loc[1]:next]
		plain.WriteString(body)

		label := strings.TrimSpace(raw[loc[2*labelIdx]:loc[2*labelIdx+1]])
		coords := raw[loc[2*coordsIdx]:loc[2*coordsIdx+1]]
		text := cleanText(body)
		for _, box := range parseCoords(coords) {
			region, ok := scaleBox(box, width, height)
			if !ok {
				continue
			}
			spans = append(spans, domain.TextSpan{Text: text, Label: label, Bounds: region})
		}
	}
	return cleanText(plain.String()), spans
}

func cleanText(raw string) string {
	out := controlToken.ReplaceAllString(raw, "")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func parseCoords(raw string) [][4]float64 {
	cleaned := strings.TrimSpace(controlToken.ReplaceAllString(fullWidthMap.Replace(raw), ""))
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return nil
	}
	var data []any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &data); err != nil {
		return nil
	}
	if box, ok := asBox(data); ok {
		return [][4]float64{box}
	}
	var boxes [][4]float64
	for _, item := range data {
		nested, ok := item.([]any)
		if !ok {
			continue
		}
		if box, ok := asBox(nested); ok {
			boxes = append(boxes, box)
			continue
		}
		// [[x1,y1],[x2,y2]]
		if len(nested) >= 2 {
			p1, ok1 := nested[0].([]any)
			p2, ok2 := nested[1].([]any)
			if ok1 && ok2 && len(p1) >= 2 && len(p2) >= 2 {
				if box, ok := asBox([]any{p1[0], p1[1], p2[0], p2[1]}); ok {
					boxes = append(boxes, box)
				}
			}
		}
	}
	return boxes
}

func asBox(items []any) ([4]float64, bool) {
	var box [4]float64
	if len(items) < 4 {
		return box, false
	}
	for i := 0; i < 4; i++ {
		v, ok := items[i].(float64)
		if !ok {
			return box, false
		}
		box[i] = v
	}
	return box, true
}

func scaleBox(box [4]float64, width, height int) (domain.Region, bool) {
	x1 := int(box[0] / 999.0 * float64(width))
	y1 := int(box[1] / 999.0 * float64(height))
	x2 := int(box[2] / 999.0 * float64(width))
	y2 := int(box[3] / 999.0 * float64(height))
	if x2 <= x1 || y2 <= y1 {
		return domain.Region{}, false
	}
	return domain.Region{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}
