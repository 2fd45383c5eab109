package feed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lamim/trainsession/pkg/models"
)

// maxLineSize bounds a single text-format line
const maxLineSize = 4 * 1024 * 1024

// LoadCTF reads a text-format file into sequences
func LoadCTF(path string, streams []StreamDef) ([]models.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer func() { _ = f.Close() }()

	seqs, err := ParseCTF(f, streams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seqs, nil
}

// ParseCTF parses text-format data.
//
// Each line is "[seqId] |field values |field values ...". Consecutive lines with
// the same sequence id form one sequence; a line without an id is a sequence of
// its own. Fields starting with '#' are comments. Sparse streams use
// "index:value" tokens, dense streams plain numbers.
func ParseCTF(r io.Reader, streams []StreamDef) ([]models.Sequence, error) {
	byField := make(map[string]StreamDef, len(streams))
	for _, s := range streams {
		if s.Field == "" || s.Name == "" {
			return nil, fmt.Errorf("%w: stream definition needs name and field", ErrParse)
		}
		byField[s.Field] = s
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		seqs      []models.Sequence
		current   *models.Sequence
		currentID string
		lineNo    int
		anonymous uint64
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		bar := strings.IndexByte(line, '|')
		if bar < 0 {
			return nil, fmt.Errorf("%w: line %d has no fields", ErrParse, lineNo)
		}
		idText := strings.TrimSpace(line[:bar])

		if current == nil || idText == "" || idText != currentID {
			var id uint64
			if idText == "" {
				id = anonymous
				anonymous++
			} else {
				v, err := strconv.ParseUint(idText, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: line %d: bad sequence id %q", ErrParse, lineNo, idText)
				}
				id = v
			}
			seqs = append(seqs, models.Sequence{ID: id, Streams: make(map[string][]models.Sample)})
			current = &seqs[len(seqs)-1]
			currentID = idText
		}

		for _, field := range strings.Split(line[bar+1:], "|") {
			field = strings.TrimSpace(field)
			if field == "" || field[0] == '#' {
				continue
			}
			tag, rest, _ := strings.Cut(field, " ")
			if i := strings.IndexByte(tag, '\t'); i >= 0 {
				tag, rest = tag[:i], tag[i+1:]+" "+rest
			}
			def, ok := byField[tag]
			if !ok {
				return nil, fmt.Errorf("%w: line %d: undeclared field %q", ErrParse, lineNo, tag)
			}
			sample, err := parseSample(rest, def)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d field %s: %v", ErrParse, lineNo, tag, err)
			}
			current.Streams[def.Name] = append(current.Streams[def.Name], sample)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	return seqs, nil
}

func parseSample(text string, def StreamDef) (models.Sample, error) {
	tokens := strings.Fields(text)
	var s models.Sample

	if def.Sparse {
		s.Indices = make([]int, 0, len(tokens))
		s.Values = make([]float32, 0, len(tokens))
		for _, tok := range tokens {
			idxText, valText, ok := strings.Cut(tok, ":")
			if !ok {
				return s, fmt.Errorf("expected index:value, got %q", tok)
			}
			idx, err := strconv.Atoi(idxText)
			if err != nil || idx < 0 {
				return s, fmt.Errorf("bad index %q", idxText)
			}
			if def.Dim > 0 && idx >= def.Dim {
				return s, fmt.Errorf("index %d out of range for dimension %d", idx, def.Dim)
			}
			val, err := strconv.ParseFloat(valText, 32)
			if err != nil {
				return s, fmt.Errorf("bad value %q", valText)
			}
			s.Indices = append(s.Indices, idx)
			s.Values = append(s.Values, float32(val))
		}
		return s, nil
	}

	s.Values = make([]float32, 0, len(tokens))
	for _, tok := range tokens {
		val, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return s, fmt.Errorf("bad value %q", tok)
		}
		s.Values = append(s.Values, float32(val))
	}
	if def.Dim > 0 && len(s.Values) != def.Dim {
		return s, fmt.Errorf("expected %d values, got %d", def.Dim, len(s.Values))
	}
	return s, nil
}
