package testkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/aak1247/sitetap/internal/model"
)

type APIEnvelope struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Err   string          `json:"err"`
	Kind  string          `json:"kind"`
	Field string          `json:"field"`
}

func DoJSON(t testing.TB, client *http.Client, method, rawURL string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal: %v", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, rawURL, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("client.Do: %v", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return res.StatusCode, b
}

func DecodeEnvelope(t testing.TB, body []byte) APIEnvelope {
	t.Helper()

	var env APIEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, string(body))
	}
	return env
}

// DecodeData decodes the envelope's data into out and fails on a non-zero code.
func DecodeData(t testing.TB, body []byte, out any) {
	t.Helper()

	env := DecodeEnvelope(t, body)
	if env.Code != 0 {
		t.Fatalf("code=%d err=%s", env.Code, env.Err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v (body=%s)", err, string(body))
	}
}

// TeamHeader is the tenant header for teamID.
func TeamHeader(teamID int64) map[string]string {
	return map[string]string{"X-Team-Id": strconv.FormatInt(teamID, 10)}
}

func CreateTeam(t testing.TB, client *http.Client, baseURL, name, dbAdapter string) model.Team {
	t.Helper()

	status, body := DoJSON(t, client, http.MethodPost, baseURL+"/api/teams", map[string]string{"name": name, "db_adapter": dbAdapter}, nil)
	if status != http.StatusCreated {
		t.Fatalf("create team status=%d body=%s", status, string(body))
	}
	var team model.Team
	DecodeData(t, body, &team)
	return team
}

func CreateSite(t testing.TB, client *http.Client, baseURL string, teamID int64, domain string) model.Site {
	t.Helper()

	status, body := DoJSON(t, client, http.MethodPost, baseURL+"/api/sites", map[string]string{"domain": domain}, TeamHeader(teamID))
	if status != http.StatusCreated {
		t.Fatalf("create site status=%d body=%s", status, string(body))
	}
	var s model.Site
	DecodeData(t, body, &s)
	return s
}

// Collect posts events to the pixel endpoint and expects them accepted.
func Collect(t testing.TB, client *http.Client, baseURL, tagID string, events ...map[string]any) {
	t.Helper()

	var payload any = events
	if len(events) == 1 {
		payload = events[0]
	}
	status, body := DoJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/collect/%s", baseURL, tagID), payload, nil)
	if status != http.StatusAccepted {
		t.Fatalf("collect status=%d body=%s", status, string(body))
	}
}
