package jsonfmt

import "encoding/json"

const Version = "1.0.0"

func Marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
