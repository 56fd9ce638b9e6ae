package detections

import (
	"bufio"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Names maps class indices to labels.
type Names []string

func (n Names) Label(classID int) (string, error) {
	if classID < 0 || classID >= len(n) {
		return "", xerrors.Errorf("class %d of %d: %w", classID, len(n), ErrUnknownClass)
	}
	return n[classID], nil
}

// ParseNamesMetadata parses the class table exported alongside YOLO models,
// a dict literal such as "{0: 'blast', 1: 'brown_spot'}". Keys must cover
// 0..n-1 without gaps.
func ParseNamesMetadata(raw string) (Names, error) {
	var table map[int]string
	if err := yaml.Unmarshal([]byte(raw), &table); err != nil {
		return nil, xerrors.Errorf("parse names metadata: %w", err)
	}
	if len(table) == 0 {
		return nil, xerrors.New("names metadata is empty")
	}

	names := make(Names, len(table))
	for i := range names {
		label, ok := table[i]
		if !ok {
			return nil, xerrors.Errorf("names metadata is missing class %d", i)
		}
		names[i] = label
	}
	return names, nil
}

// LoadNamesFile reads one label per line; blank lines are skipped.
func LoadNamesFile(path string) (Names, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("open labels file: %w", err)
	}
	defer f.Close()

	var names Names
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("read labels file: %w", err)
	}
	if len(names) == 0 {
		return nil, xerrors.Errorf("labels file %s is empty", path)
	}
	return names, nil
}

// ReadModelNames loads the class table from the model's custom metadata.
func ReadModelNames(modelPath string) (Names, error) {
	md, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, xerrors.Errorf("read model metadata: %w", err)
	}
	defer md.Destroy()

	raw, ok, err := md.LookupCustomMetadataMap(NamesMetadataKey)
	if err != nil {
		return nil, xerrors.Errorf("lookup %q metadata: %w", NamesMetadataKey, err)
	}
	if !ok {
		return nil, xerrors.Errorf("model has no %q metadata; set LABELS_PATH", NamesMetadataKey)
	}
	return ParseNamesMetadata(raw)
}
