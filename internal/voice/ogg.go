package voice

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	oggHeaderLen = 27
	oggMaxSeg    = 255
)

var (
	oggCapture = []byte("OggS")
	opusHead   = []byte("OpusHead")
	opusTags   = []byte("OpusTags")
)

// ErrShortPage is returned when a stream ends inside an Ogg page.
var ErrShortPage = errors.New("truncated ogg page")

// OggReader splits an Ogg/Opus byte stream into Opus packets. Header
// packets (OpusHead, OpusTags) are skipped. Bytes before a capture pattern
// are discarded so a reader can resynchronize after garbage.
type OggReader struct {
	r      *bufio.Reader
	header []byte
	segs   []byte
	packet bytes.Buffer
	queue  [][]byte
}

// NewOggReader wraps r.
func NewOggReader(r io.Reader) *OggReader {
	return &OggReader{
		r:      bufio.NewReaderSize(r, 16384),
		header: make([]byte, oggHeaderLen),
		segs:   make([]byte, oggMaxSeg),
	}
}

// ReadPacket returns the next Opus packet. It returns io.EOF at a clean end
// of stream and ErrShortPage when the stream stops mid-page.
func (o *OggReader) ReadPacket() ([]byte, error) {
	for len(o.queue) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return p, nil
}

func (o *OggReader) readPage() error {
	for {
		sig, err := o.r.Peek(len(oggCapture))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		if bytes.Equal(sig, oggCapture) {
			break
		}
		_, _ = o.r.Discard(1)
	}

	if _, err := io.ReadFull(o.r, o.header); err != nil {
		return shortPage(err)
	}
	n := int(o.header[26])
	segs := o.segs[:n]
	if _, err := io.ReadFull(o.r, segs); err != nil {
		return shortPage(err)
	}

	for _, size := range segs {
		if _, err := io.CopyN(&o.packet, o.r, int64(size)); err != nil {
			return shortPage(err)
		}
		// A lacing value below 255 terminates the packet; 255 continues it,
		// possibly into the next page.
		if size < oggMaxSeg {
			o.emit()
		}
	}
	return nil
}

func (o *OggReader) emit() {
	data := o.packet.Bytes()
	o.packet.Reset()
	if len(data) == 0 || bytes.HasPrefix(data, opusHead) || bytes.HasPrefix(data, opusTags) {
		return
	}
	o.queue = append(o.queue, bytes.Clone(data))
}

func shortPage(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortPage
	}
	return err
}
