package dobby

import (
	"encoding/json"
	"io"
	"os"
)

func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	return dec.Decode(v)
}

// decodeFileJSON reads the JSON file at path into v.
func decodeFileJSON(v interface{}, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return decodeJSON(f, v)
}

// encodeFileJSON writes v as JSON to a newly created file at path.
func encodeFileJSON(path string, v interface{}, flag int, perm os.FileMode) error {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
