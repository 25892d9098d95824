package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tagify/internal/metadata"
)

func TestNearestSize(t *testing.T) {
	sizes := []int{250, 500, 1200}
	tests := []struct {
		want, got int
	}{
		{100, 250},
		{250, 250},
		{251, 500},
		{600, 1200},
		{1400, 1200},
	}
	for _, tt := range tests {
		if got := NearestSize(sizes, tt.want); got != tt.got {
			t.Errorf("NearestSize(%d) = %d, want %d", tt.want, got, tt.got)
		}
	}
}

func TestUnsupported(t *testing.T) {
	err := Unsupported("itunes", "QueryByFingerprint")
	if !errors.Is(err, metadata.ErrUnsupported) {
		t.Errorf("error %v does not wrap ErrUnsupported", err)
	}
}

func TestTextDecoding(t *testing.T) {
	var v struct {
		A Text `json:"a"`
		B Text `json:"b"`
		C Text `json:"c"`
		D Text `json:"d"`
		E Text `json:"e"`
	}
	data := `{"a":"x","b":12,"c":null,"d":{"nested":true},"e":1.5}`
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != "x" || v.B != "12" || v.C != "" || v.D != "" || v.E != "1.5" {
		t.Errorf("decoded %+v", v)
	}
}

type stubTransport struct{ cached map[string]bool }

func (s stubTransport) GetJSON(context.Context, string, any) bool { return false }
func (s stubTransport) Cached(rawURL string) bool                 { return s.cached[rawURL] }

type countingLimiter struct{ left int }

func (l *countingLimiter) Allow() bool {
	if l.left == 0 {
		return false
	}
	l.left--
	return true
}

func TestAdmit(t *testing.T) {
	tr := stubTransport{cached: map[string]bool{"http://api/hit": true}}
	l := &countingLimiter{left: 1}

	if !Admit(tr, l, "http://api/hit") || l.left != 1 {
		t.Fatalf("cached request should be admitted without a slot, left = %d", l.left)
	}
	if !Admit(tr, l, "http://api/miss") {
		t.Fatal("first uncached request should be admitted")
	}
	if Admit(tr, l, "http://api/miss") {
		t.Error("uncached request should be refused once the quota is spent")
	}
	if !Admit(tr, l, "http://api/hit") {
		t.Error("cached request should be admitted while throttled")
	}
}
