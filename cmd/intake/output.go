package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}

// stringValue renders a decoded JSON scalar. Numbers keep every digit.
func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// recordFromJSON converts a decoded JSON object into a raw record. Null
// values are dropped.
func recordFromJSON(v interface{}) (map[string]string, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %T", v)
	}
	record := make(map[string]string, len(obj))
	for k, val := range obj {
		if val != nil {
			record[k] = stringValue(val)
		}
	}
	return record, nil
}
