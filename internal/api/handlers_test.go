package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("/api/backtests") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("/api/backtests") {
		t.Error("request over the limit should be rejected")
	}
	// Other endpoints keep their own budget
	if !rl.Allow("/api/events") {
		t.Error("different endpoint should not share the budget")
	}
}

func TestErrorResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	errorResponse(c, http.StatusNotFound, "Rule not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != true {
		t.Errorf("expected error=true, got %v", body["error"])
	}
	if body["message"] != "Rule not found" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestSuccessResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	successResponse(c, map[string]int{"closed": 2})

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["success"] != true {
		t.Errorf("expected success=true, got %v", body["success"])
	}
}

func TestPathID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		param  string
		wantID int64
		wantOK bool
	}{
		{"numeric", "42", 42, true},
		{"negative", "-1", -1, true},
		{"garbage", "abc", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Params = gin.Params{{Key: "id", Value: tt.param}}

			id, ok := pathID(c)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if id != tt.wantID {
				t.Errorf("id = %d, want %d", id, tt.wantID)
			}
			if !tt.wantOK && w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400 on bad id, got %d", w.Code)
			}
		})
	}
}

func TestHandleGetQuote(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quotes/SBER" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(marketdata.Quote{Ticker: "SBER", Price: 293.4, Timestamp: time.Now()})
	}))
	defer upstream.Close()

	s := &Server{market: marketdata.NewClient(upstream.URL, "60", zerolog.Nop())}

	t.Run("provider fallback", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/quotes/SBER", nil)
		c.Params = gin.Params{{Key: "ticker", Value: "SBER"}}

		s.handleGetQuote(c)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var body struct {
			Data marketdata.Quote `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Data.Ticker != "SBER" || body.Data.Price != 293.4 {
			t.Errorf("quote = %+v", body.Data)
		}
	})

	t.Run("unknown ticker", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/quotes/NOPE", nil)
		c.Params = gin.Params{{Key: "ticker", Value: "NOPE"}}

		s.handleGetQuote(c)

		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 for a ticker the provider has no quote for", w.Code)
		}
	})
}

func TestHandleInvalidateCacheWithoutRedis(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/cache/SBER", nil)
	c.Params = gin.Params{{Key: "ticker", Value: "SBER"}}

	s := &Server{}
	s.handleInvalidateCache(c)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when no cache is configured", w.Code)
	}
}
