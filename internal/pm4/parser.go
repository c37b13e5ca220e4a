package pm4

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rocsift/rocsift-go/rocerr"
)

var (
	nodeHeaderRe = regexp.MustCompile(`^\s*Node\s+(\d+),\s*gpu_id\s+([0-9a-fA-F]+):\s*$`)
	dataLineRe   = regexp.MustCompile(`^\s*[0-9a-fA-F]{8}:((?:\s+[0-9a-fA-F]{8})+)\s*$`)
	dataWordRe   = regexp.MustCompile(`[0-9a-fA-F]{8}`)
)

type parserState int

const (
	stateNode parserState = iota
	stateData
	stateEnd
	stateError
)

// Parser walks the kernel's textual runlist dump one node block at a time,
// the same resumable single-pass scan the kernel-side dumper intends
// readers to perform: NODE scans forward for the next "Node N, gpu_id
// <hex>:" line (gpu_id as bare hex digits), DATA accumulates the dwords that follow it, and END hands
// back one completed Runlist with the cursor parked just past the last
// dword line it consumed, ready for the next call to resume from.
type Parser struct {
	text  string
	pos   int
	state parserState
}

// NewParser builds a Parser over the full text of a runlist dump.
func NewParser(text string) *Parser {
	return &Parser{text: text, state: stateNode}
}

// ParseNext returns the next Runlist in the dump. ok is false once the text
// is exhausted with no node left to parse; a non-nil error is fatal to the
// whole parse and the Parser must not be reused afterward.
func (p *Parser) ParseNext() (Runlist, bool, error) {
	if p.state == stateError {
		return Runlist{}, false, rocerr.New(rocerr.CodeBug, "pm4.ParseNext",
			fmt.Errorf("parser reused after a previous fatal error"))
	}

	var (
		rl     Runlist
		dwords []uint32
		found  bool
	)

	p.state = stateNode

	for p.state != stateEnd {
		line, hasLine := p.nextLine()

		switch p.state {
		case stateNode:
			if !hasLine {
				return Runlist{}, false, nil
			}

			m := nodeHeaderRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			nodeID, err := strconv.ParseUint(m[1], 10, 32)
			if err != nil {
				p.state = stateError
				return Runlist{}, false, rocerr.New(rocerr.Error, "pm4.ParseNext", err)
			}

			gpuID, err := strconv.ParseUint(m[2], 16, 32)
			if err != nil {
				p.state = stateError
				return Runlist{}, false, rocerr.New(rocerr.Error, "pm4.ParseNext", err)
			}

			rl.NodeID = uint32(nodeID)
			rl.GPUID = uint32(gpuID)
			found = true
			p.state = stateData

		case stateData:
			if !hasLine {
				p.state = stateEnd
				break
			}

			m := dataLineRe.FindStringSubmatch(line)
			if m == nil {
				// Not a data line: push the cursor back so NODE (on the
				// next ParseNext call) sees this line too.
				p.rewindLine(line)
				p.state = stateEnd

				break
			}

			for _, w := range dataWordRe.FindAllString(m[1], -1) {
				v, err := strconv.ParseUint(w, 16, 32)
				if err != nil {
					p.state = stateError
					return Runlist{}, false, rocerr.New(rocerr.Error, "pm4.ParseNext", err)
				}

				dwords = append(dwords, uint32(v))
			}
		}
	}

	if !found {
		return Runlist{}, false, nil
	}

	entries, err := parseEntries(dwords)
	if err != nil {
		p.state = stateError
		return Runlist{}, false, err
	}

	rl.Entries = entries

	return rl, true, nil
}

// ParseAll drains the Parser into a RunlistSeries.
func ParseAll(text string) (RunlistSeries, error) {
	p := NewParser(text)

	var series RunlistSeries

	for {
		rl, ok, err := p.ParseNext()
		if err != nil {
			return nil, err
		}

		if !ok {
			return series, nil
		}

		series = append(series, rl)
	}
}

// nextLine returns the next line starting at p.pos, advancing the cursor
// past it (and its trailing newline, if any). ok is false at end of text.
func (p *Parser) nextLine() (string, bool) {
	if p.pos >= len(p.text) {
		return "", false
	}

	rest := p.text[p.pos:]
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		line := rest[:idx]
		p.pos += idx + 1

		return line, true
	}

	p.pos = len(p.text)

	return rest, true
}

// rewindLine moves the cursor back by len(line)+1, so the next nextLine
// call returns line again. Used when DATA reads one line too far and must
// hand it back to the following NODE scan.
func (p *Parser) rewindLine(line string) {
	p.pos -= len(line) + 1
	if p.pos < 0 {
		p.pos = 0
	}
}
