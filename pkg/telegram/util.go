package telegram

import (
	"encoding/json"
	"fmt"
	"io"
)

type rawJSON = json.RawMessage

// readJSON into interface
func readJSON(in io.ReadCloser, v interface{}) error {
	body, err := io.ReadAll(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("io read: %w", err)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}
