// Package tracefile reads traces written as JSON lines.
//
// Each non-blank line is one JSON object with a "type" field:
//
//	{"type":"header","name":"frame-42","target_pid":1234}
//	{"type":"segment","heap":"local","base":"0x100000000","size":268435456}
//	{"type":"token","stream":0,"kind":"virtual_allocate","ts":10,"thread":3,
//	 "address":"0x7f0000000","size":65536,"preferences":["local","system"]}
//
// Addresses and sizes may be JSON numbers or strings in decimal or 0x hex.
// Lines starting with '#' are comments. A line without "type" but with
// "kind" is read as a token.
package tracefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rcliao/memtrace/internal/model"
)

// ErrSyntax marks a line that could not be decoded.
var ErrSyntax = errors.New("trace syntax error")

// maxLine bounds a single JSON line.
const maxLine = 4 << 20

// LineError reports which line of the input failed.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Decode reads a whole trace from r. Tokens keep their file order within each stream.
func Decode(r io.Reader) (*model.Trace, error) {
	t := &model.Trace{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := decodeLine(t, text); err != nil {
			return nil, &LineError{Line: line, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return t, nil
}

func decodeLine(t *model.Trace, text string) error {
	if !gjson.Valid(text) {
		return fmt.Errorf("%w: invalid JSON", ErrSyntax)
	}
	obj := gjson.Parse(text)
	if !obj.IsObject() {
		return fmt.Errorf("%w: expected an object", ErrSyntax)
	}

	typ := obj.Get("type").String()
	if typ == "" && obj.Get("kind").Exists() {
		typ = "token"
	}
	switch typ {
	case "header":
		if name := obj.Get("name"); name.Exists() {
			t.Name = name.String()
		}
		if pid := obj.Get("target_pid"); pid.Exists() {
			v, err := number(pid)
			if err != nil {
				return fmt.Errorf("target_pid: %w", err)
			}
			t.TargetProcessID = v
		}
		return nil
	case "segment":
		seg, err := decodeSegment(obj)
		if err != nil {
			return err
		}
		t.Segments = append(t.Segments, seg)
		return nil
	case "token":
		stream, tok, err := decodeToken(obj)
		if err != nil {
			return err
		}
		for len(t.Streams) <= stream {
			t.Streams = append(t.Streams, nil)
		}
		t.Streams[stream] = append(t.Streams[stream], tok)
		return nil
	default:
		return fmt.Errorf("%w: unknown line type %q", ErrSyntax, typ)
	}
}

func decodeSegment(obj gjson.Result) (model.Segment, error) {
	var seg model.Segment
	heap, err := model.ParseHeapType(obj.Get("heap").String())
	if err != nil {
		return seg, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	seg.Heap = heap
	if seg.BaseAddress, err = field(obj, "base"); err != nil {
		return seg, err
	}
	if seg.Size, err = field(obj, "size"); err != nil {
		return seg, err
	}
	return seg, nil
}

// maxStreams bounds the stream index so a typo cannot allocate a huge slice.
const maxStreams = 1024

func decodeToken(obj gjson.Result) (int, model.Token, error) {
	var tok model.Token
	stream := obj.Get("stream").Int()
	if stream < 0 || stream >= maxStreams {
		return 0, tok, fmt.Errorf("%w: stream %d out of range", ErrSyntax, stream)
	}

	kind, err := model.ParseTokenKind(obj.Get("kind").String())
	if err != nil {
		return 0, tok, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	tok.Kind = kind
	if tok.Timestamp, err = field(obj, "ts"); err != nil {
		return 0, tok, err
	}
	if thread := obj.Get("thread"); thread.Exists() {
		if tok.ThreadID, err = number(thread); err != nil {
			return 0, tok, fmt.Errorf("thread: %w", err)
		}
	}

	switch kind {
	case model.TokenResourceCreate:
		tok.ResourceCreate, err = decodeResourceCreate(obj)
	case model.TokenResourceDestroy:
		var id uint64
		id, err = field(obj, "resource")
		tok.ResourceDestroy = &model.ResourceDestroy{ResourceID: model.ResourceIdentifier(id)}
	case model.TokenResourceBind:
		p := &model.ResourceBind{}
		var id uint64
		if id, err = field(obj, "resource"); err == nil {
			p.ResourceID = model.ResourceIdentifier(id)
			if p.Address, err = field(obj, "address"); err == nil {
				p.Size, err = field(obj, "size")
			}
		}
		tok.ResourceBind = p
	case model.TokenVirtualAllocate:
		tok.VirtualAllocate, err = decodeVirtualAllocate(obj)
	case model.TokenVirtualFree:
		p := &model.VirtualFree{}
		p.Address, err = field(obj, "address")
		tok.VirtualFree = p
	case model.TokenCPUMap:
		p := &model.CPUMap{Unmap: obj.Get("unmap").Bool()}
		p.Address, err = field(obj, "address")
		tok.CPUMap = p
	case model.TokenResidencyUpdate:
		p := &model.ResidencyUpdate{Evict: obj.Get("evict").Bool()}
		p.Address, err = field(obj, "address")
		tok.ResidencyUpdate = p
	case model.TokenPageTableUpdate:
		tok.PageTableUpdate, err = decodePageTableUpdate(obj)
	}
	if err != nil {
		return 0, tok, err
	}
	return int(stream), tok, nil
}

func decodeResourceCreate(obj gjson.Result) (*model.ResourceCreate, error) {
	p := &model.ResourceCreate{}
	id, err := field(obj, "resource")
	if err != nil {
		return nil, err
	}
	p.ResourceID = model.ResourceIdentifier(id)

	if rt := obj.Get("resource_type"); rt.Exists() {
		if p.Type, err = model.ParseResourceType(rt.String()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
	}
	for _, u := range obj.Get("usage").Array() {
		flag, err := model.ParseUsageFlag(u.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		p.Usage |= flag
	}
	if size := obj.Get("size"); size.Exists() {
		if p.Size, err = number(size); err != nil {
			return nil, fmt.Errorf("size: %w", err)
		}
	}
	return p, nil
}

func decodeVirtualAllocate(obj gjson.Result) (*model.VirtualAllocate, error) {
	p := &model.VirtualAllocate{}
	var err error
	if p.Address, err = field(obj, "address"); err != nil {
		return nil, err
	}
	if p.Size, err = field(obj, "size"); err != nil {
		return nil, err
	}
	for _, h := range obj.Get("preferences").Array() {
		heap, err := model.ParseHeapType(h.String())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		p.Preferences = append(p.Preferences, heap)
	}
	return p, nil
}

func decodePageTableUpdate(obj gjson.Result) (*model.PageTableUpdate, error) {
	p := &model.PageTableUpdate{Unmap: obj.Get("unmap").Bool()}
	var err error
	if p.VirtualAddress, err = field(obj, "virtual_address"); err != nil {
		return nil, err
	}
	if p.SizeInPages, err = field(obj, "pages"); err != nil {
		return nil, err
	}
	p.PageSize = 4096
	if ps := obj.Get("page_size"); ps.Exists() {
		if p.PageSize, err = number(ps); err != nil {
			return nil, fmt.Errorf("page_size: %w", err)
		}
	}
	if pa := obj.Get("physical_address"); pa.Exists() {
		if p.PhysicalAddress, err = number(pa); err != nil {
			return nil, fmt.Errorf("physical_address: %w", err)
		}
	}
	if pid := obj.Get("pid"); pid.Exists() {
		if p.ProcessID, err = number(pid); err != nil {
			return nil, fmt.Errorf("pid: %w", err)
		}
	}
	return p, nil
}

// field reads a required numeric field.
func field(obj gjson.Result, name string) (uint64, error) {
	v := obj.Get(name)
	if !v.Exists() {
		return 0, fmt.Errorf("%w: missing %q", ErrSyntax, name)
	}
	n, err := number(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// number accepts a non-negative JSON number or a decimal/hex string.
func number(v gjson.Result) (uint64, error) {
	switch v.Type {
	case gjson.Number:
		// Raw keeps full 64-bit precision that Float would lose.
		n, err := strconv.ParseUint(v.Raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not an unsigned integer", ErrSyntax, v.Raw)
		}
		return n, nil
	case gjson.String:
		return ParseUint(v.String())
	default:
		return 0, fmt.Errorf("%w: expected a number, got %s", ErrSyntax, v.Type)
	}
}

// ParseUint parses a decimal or 0x-prefixed hexadecimal value.
func ParseUint(s string) (uint64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an unsigned integer", ErrSyntax, s)
	}
	return n, nil
}
