package wire

import (
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func TestEffectiveDeadline(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{5 * time.Second, 15 * time.Second},
		{290 * time.Second, MaxReadDuration},
		{0, 10 * time.Second},
	}
	for _, c := range cases {
		if got := EffectiveDeadline(c.timeout); got != c.want {
			t.Errorf("EffectiveDeadline(%s) = %s, want %s", c.timeout, got, c.want)
		}
	}
}

func TestEncodeFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"action":"ping"}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(frame) != 4+len(payload) {
		t.Fatalf("frame length = %d, want %d", len(frame), 4+len(payload))
	}
	gotLen := binary.BigEndian.Uint32(frame[:4])
	if int(gotLen) != len(payload) {
		t.Fatalf("length prefix = %d, want %d", gotLen, len(payload))
	}
	if string(frame[4:]) != string(payload) {
		t.Fatalf("frame body mismatch")
	}
}

func TestEncodeFrameRejectsOversizePayload(t *testing.T) {
	big := make([]byte, MaxSendSize+1)
	if _, err := EncodeFrame(big); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestSendAndReadMessageNoMultiplex(t *testing.T) {
	client, server := pipeConns(t)
	payload := []byte(`{"action":"execute","code":"1+1"}`)

	go func() {
		_ = SendMessage(client, payload, 2*time.Second)
	}()

	d := NewDemuxer(server, NoMultiplexTags)
	got, err := d.ReadMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadMessageRejectsOversizeLength(t *testing.T) {
	client, server := pipeConns(t)

	go func() {
		header := make([]byte, 4)
		binary.BigEndian.PutUint32(header, MaxMessageSize+1)
		_, _ = client.Write(header)
	}()

	d := NewDemuxer(server, NoMultiplexTags)
	_, err := d.ReadMessage(2 * time.Second)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestDemultiplexedTransport(t *testing.T) {
	client, server := pipeConns(t)
	payload := []byte(`{"status":"ok"}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	go func() {
		header := make([]byte, 8)
		header[0] = 1 // stdout-like tag
		binary.BigEndian.PutUint32(header[4:8], uint32(len(frame)))
		_, _ = client.Write(header)
		_, _ = client.Write(frame)
	}()

	d := NewDemuxer(server, DefaultMultiplexTags)
	got, err := d.ReadMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestSendMessageRejectsOversizePayload(t *testing.T) {
	client, _ := pipeConns(t)
	big := make([]byte, MaxSendSize+1)
	if err := SendMessage(client, big, time.Second); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
