package series

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/shng-go/shng/errors"
)

// Frame layout: [1 kind][8 seq][4 len][len bytes json]
const frameHeaderLen = 13

const (
	// frameOpen carries a Record opened at its Time; it closes the previous
	// open record of the item.
	frameOpen byte = 1
	// frameExtend carries an extend: the open record's value was set again.
	frameExtend byte = 2
)

type extend struct {
	Item    string `json:"item"`
	Changed int64  `json:"changed"`
}

func writeFrame(w io.Writer, kind byte, seq uint64, v interface{}) (int, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	var hdr [frameHeaderLen]byte
	hdr[0] = kind
	binary.BigEndian.PutUint64(hdr[1:9], seq)
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(body); err != nil {
		return 0, err
	}
	return len(hdr) + len(body), nil
}

// replay reads the frames of the log at path in order and returns the offset
// just past the last complete frame. A torn or undecodable frame ends the
// replay; the caller truncates the log there.
func replay(path string, fn func(kind byte, seq uint64, body []byte) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for {
		var hdr [frameHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return offset, nil
			}
			return offset, errors.Wrap(err, "series log header")
		}
		kind := hdr[0]
		seq := binary.BigEndian.Uint64(hdr[1:9])
		length := binary.BigEndian.Uint32(hdr[9:13])
		if kind != frameOpen && kind != frameExtend {
			return offset, nil
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return offset, nil
			}
			return offset, errors.Wrap(err, "series log body")
		}
		if err := fn(kind, seq, body); err != nil {
			return offset, nil
		}
		offset += int64(frameHeaderLen) + int64(length)
	}
}
