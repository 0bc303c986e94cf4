package tracker

import (
	"fmt"
	"io"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/lvbealr/gopherbit/internal/config"
)

// dictPeer is one entry of the non-compact "peers" list format.
type dictPeer struct {
	IP   string `bencode:"ip"`
	Port int64  `bencode:"port"`
}

// Response is the parsed outcome of a single announce. FailureReason is
// set, with Peers empty and Interval defaulted, when the tracker itself
// answered with a "failure reason" dictionary — this is a valid,
// successfully-parsed response, not a transport error, so it carries no
// error value.
type Response struct {
	Peers         []Peer
	Interval      time.Duration
	FailureReason string
}

// decodeResponse parses a bencoded tracker announce response. The
// "peers" field is polymorphic: either a compact binary string or a
// list of {ip, port} dictionaries, so the top level is decoded into
// bencode's generic interface{} shape first (dict ->
// map[string]interface{}, list -> []interface{}, string -> string,
// int -> int64) and then inspected by hand.
func decodeResponse(body io.Reader) (Response, error) {
	var generic interface{}
	if err := bencode.Unmarshal(body, &generic); err != nil {
		return Response{}, fmt.Errorf("tracker: decoding response: %w", err)
	}

	dict, ok := generic.(map[string]interface{})
	if !ok {
		return Response{}, fmt.Errorf("tracker: response is not a dictionary")
	}

	if reason, ok := dict["failure reason"]; ok {
		return Response{
			Peers:         nil,
			Interval:      config.DefaultTrackerInterval,
			FailureReason: fmt.Sprintf("%v", reason),
		}, nil
	}

	interval := config.DefaultTrackerInterval
	if raw, ok := dict["interval"]; ok {
		if n, ok := raw.(int64); ok && n > 0 {
			interval = time.Duration(n) * time.Second
		}
	}

	peersRaw, ok := dict["peers"]
	if !ok {
		return Response{Peers: nil, Interval: interval}, nil
	}

	peers, err := decodePeersField(peersRaw)
	if err != nil {
		return Response{}, fmt.Errorf("tracker: %w", err)
	}

	return Response{Peers: peers, Interval: interval}, nil
}

func decodePeersField(peersRaw interface{}) ([]Peer, error) {
	switch v := peersRaw.(type) {
	case string:
		return parseCompactPeers(v)
	case []interface{}:
		entries := make([]dictPeer, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			ip, _ := m["ip"].(string)
			port, _ := m["port"].(int64)
			entries = append(entries, dictPeer{IP: ip, Port: port})
		}
		return parseDictPeers(entries), nil
	default:
		return nil, fmt.Errorf("unrecognised \"peers\" value type")
	}
}
