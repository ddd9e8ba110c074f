package analyzer

import "encoding/json"

func parseProbeJSON(raw string) (probeJSON, error) {
	var data probeJSON
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return probeJSON{}, err
	}
	return data, nil
}
