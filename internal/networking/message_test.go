package networking

import (
	"errors"
	"testing"
)

func TestParseMessageRanking(t *testing.T) {
	payload := []byte(`{"type":"ranking","data":[
		{"clientId":"c1","name":"A","dbfs":-10.5,"text":"hello"},
		{"clientId":"c2","name":"","dbfs":-120.0}
	]}`)

	msg, err := ParseMessage(payload)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	ranking, ok := msg.(RankingMessage)
	if !ok {
		t.Fatalf("message = %T, want RankingMessage", msg)
	}
	want := Ranking{
		{ClientID: "c1", Name: "A", DBFS: -10.5, Text: "hello"},
		{ClientID: "c2", Name: "", DBFS: -120},
	}
	if len(ranking.Ranking) != len(want) {
		t.Fatalf("ranking = %+v", ranking.Ranking)
	}
	for i := range want {
		if ranking.Ranking[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, ranking.Ranking[i], want[i])
		}
	}
}

func TestParseMessageEmptyRanking(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"ranking","data":[]}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if r := msg.(RankingMessage); len(r.Ranking) != 0 {
		t.Fatalf("ranking = %+v, want empty", r.Ranking)
	}
}

func TestParseMessageUnknownType(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"heartbeat","data":{"x":1}}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m, ok := msg.(UnknownMessage); !ok || m.Type != "heartbeat" {
		t.Fatalf("message = %#v, want UnknownMessage{heartbeat}", msg)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	tests := map[string]string{
		"not json":          `ranking`,
		"not an object":     `[1,2,3]`,
		"missing type":      `{"data":[]}`,
		"non-string type":   `{"type":3}`,
		"ranking no data":   `{"type":"ranking"}`,
		"ranking null data": `{"type":"ranking","data":null}`,
		"ranking bad data":  `{"type":"ranking","data":{"clientId":"c1"}}`,
		"ranking bad entry": `{"type":"ranking","data":[{"dbfs":"loud"}]}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage([]byte(payload))
			var protocolErr *ProtocolError
			if !errors.As(err, &protocolErr) {
				t.Fatalf("err = %v, want *ProtocolError", err)
			}
			if string(protocolErr.Payload) != payload {
				t.Errorf("Payload = %q", protocolErr.Payload)
			}
		})
	}
}
