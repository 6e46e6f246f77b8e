package app

import (
	"encoding/json"
	"fmt"
)

func tokenJSON(key string) (string, error) {
	b, err := json.Marshal(struct {
		Token string `json:"token"`
	}{Token: key})
	if err != nil {
		return "", fmt.Errorf("app: encode token: %w", err)
	}
	return string(b), nil
}
