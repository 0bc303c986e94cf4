package tracker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompactPeers(t *testing.T) {
	// two peers: 1.2.3.4:256 and 5.6.7.8:80
	raw := string([]byte{1, 2, 3, 4, 1, 0, 5, 6, 7, 8, 0, 80})

	peers, err := parseCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, Peer{IP: "1.2.3.4", Port: 256}, peers[0])
	assert.Equal(t, Peer{IP: "5.6.7.8", Port: 80}, peers[1])
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	_, err := parseCompactPeers("12345")
	require.Error(t, err)
}

func TestDecodeResponseFailureReason(t *testing.T) {
	body := []byte("d14:failure reason5:oopse")

	resp, err := decodeResponse(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, resp.Peers)
	assert.Equal(t, 1800*time.Second, resp.Interval)
	assert.Equal(t, "oops", resp.FailureReason)
}

func TestDecodeResponseCompactPeers(t *testing.T) {
	peers := string([]byte{127, 0, 0, 1, 0x1A, 0xE1})
	body := []byte("d8:intervali900e5:peers6:" + peers + "e")

	resp, err := decodeResponse(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 900*time.Second, resp.Interval)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP)
}

func TestDecodeResponseDictPeers(t *testing.T) {
	body := []byte("d5:peersld2:ip9:127.0.0.14:porti6881eeee")

	resp, err := decodeResponse(bytes.NewReader(body))
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP)
	assert.Equal(t, uint16(6881), resp.Peers[0].Port)
}

func TestAnnounceCollapsesTransportError(t *testing.T) {
	c := New("http://127.0.0.1:1/announce", nil, [20]byte{}, [20]byte{}, nil)
	resp, err := c.Announce(context.Background(), 0, 0, 100, EventStarted)
	require.Error(t, err)
	assert.Nil(t, resp.Peers)
}

func TestAnnounceFallsThroughTiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peers := string([]byte{10, 0, 0, 1, 0x00, 0x50})
		w.Write([]byte("d8:intervali1800e5:peers6:" + peers + "e"))
	}))
	defer srv.Close()

	c := New("http://127.0.0.1:1/announce", [][]string{{srv.URL}}, [20]byte{}, [20]byte{}, nil)
	resp, err := c.Announce(context.Background(), 0, 0, 100, EventStarted)
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "10.0.0.1", resp.Peers[0].IP)
}

func TestCappedInterval(t *testing.T) {
	assert.Equal(t, 300*time.Second, CappedInterval(10000*time.Second))
	assert.Equal(t, 120*time.Second, CappedInterval(120*time.Second))
	assert.Equal(t, 1800*time.Second, CappedInterval(0))
}
