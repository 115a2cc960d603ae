package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Classify(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/classify" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Title != "AI 바우처 지원사업" {
			t.Errorf("unexpected title: %q", req.Title)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"eligibility_criteria":{"business_age_max_years":7,"regions":["전국"]}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	criteria, err := client.Classify(context.Background(), Request{
		Title:          "AI 바우처 지원사업",
		Content:        "창업 7년 이내 기업 대상",
		TargetAudience: "중소기업",
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}

	var decoded struct {
		BusinessAgeMaxYears int      `json:"business_age_max_years"`
		Regions             []string `json:"regions"`
	}
	if err := json.Unmarshal(criteria, &decoded); err != nil {
		t.Fatalf("decode criteria: %v", err)
	}
	if decoded.BusinessAgeMaxYears != 7 || len(decoded.Regions) != 1 {
		t.Fatalf("unexpected criteria: %+v", decoded)
	}
}

func TestClient_ClassifyServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second)
	if _, err := client.Classify(context.Background(), Request{Title: "x"}); err == nil {
		t.Fatal("expected an error for a 503 response")
	}
}

func TestClient_ClassifyRequiresTitle(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:0", time.Second)
	if _, err := client.Classify(context.Background(), Request{}); err == nil {
		t.Fatal("expected an error for an empty title")
	}
}
