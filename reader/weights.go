package reader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SampleWeights resolves per-example loss weights from the reweighting
// files: a vocabulary file with one example ID per line and a frequency file
// with the matching weight per line. Unknown IDs weigh 1.
type SampleWeights struct {
	index   map[string]int
	weights []float64
}

// LoadSampleWeights reads both reweighting files at startup. Line counts
// must match.
func LoadSampleWeights(vocabPath, freqPath string) (*SampleWeights, error) {
	ids, err := readLines(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read sample vocab file: %w", err)
	}

	freqLines, err := readLines(freqPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read sample frequency file: %w", err)
	}
	if len(ids) != len(freqLines) {
		return nil, fmt.Errorf("sample vocab has %d entries but frequency file has %d", len(ids), len(freqLines))
	}

	weights := make([]float64, len(freqLines))
	for i, line := range freqLines {
		w, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			return nil, fmt.Errorf("bad weight on line %d of %q: %w", i+1, freqPath, err)
		}
		weights[i] = w
	}

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[strings.TrimSpace(id)] = i
	}

	return &SampleWeights{index: index, weights: weights}, nil
}

// ForBatch returns the weight vector aligned with the batch's example IDs.
func (s *SampleWeights) ForBatch(ids []string) []float64 {
	out := make([]float64, len(ids))
	for i, id := range ids {
		if idx, ok := s.index[id]; ok {
			out[i] = s.weights[idx]
		} else {
			out[i] = 1
		}
	}

	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, scanner.Err()
}
