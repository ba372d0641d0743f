// Package response extracts the outcome of an authority reply.
package response

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Authority status codes the engine branches on
const (
	StatusAuthorized          = 100
	StatusAuthorizedLate      = 150
	StatusVoided              = 102
	StatusLotReceived         = 103
	StatusLotProcessed        = 104
	StatusLotProcessing       = 105
	StatusServiceRunning      = 107
	StatusEventRegistered     = 135
	StatusEventRegisteredLate = 155
	StatusClassificationError = 778
)

// Elements searched, in priority order. infProt is the per-document
// answer and wins over the lot-level ones.
var searchOrder = []string{
	"infProt",
	"retConsReciNFe",
	"infEvento",
	"infInut",
	"retEnviNFe",
	"retConsStatServ",
}

// Result is the parsed reply. Found is false when no known element carried
// a status, including empty and unparsable bodies.
type Result struct {
	Found      bool      `json:"found"`
	Source     string    `json:"source,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	AccessKey  string    `json:"access_key,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
	// Receipt is nRec of an asynchronous lot
	Receipt string `json:"receipt,omitempty"`
	// Lot status of the enclosing retEnviNFe / retConsReciNFe, when distinct
	LotStatusCode int    `json:"lot_status_code,omitempty"`
	LotReason     string `json:"lot_reason,omitempty"`
}

// Authorized reports an authorized document
func (r Result) Authorized() bool {
	return r.Found && (r.StatusCode == StatusAuthorized || r.StatusCode == StatusAuthorizedLate)
}

// EventRegistered reports an accepted event such as a cancellation
func (r Result) EventRegistered() bool {
	return r.Found && (r.StatusCode == StatusEventRegistered || r.StatusCode == StatusEventRegisteredLate)
}

// Voided reports an accepted number voiding
func (r Result) Voided() bool {
	return r.Found && r.StatusCode == StatusVoided
}

// Pending reports a lot still queued at the authority
func (r Result) Pending() bool {
	return r.Found && (r.StatusCode == StatusLotReceived || r.StatusCode == StatusLotProcessing)
}

// ClassificationRejected reports a rejection caused by the NCM code
func (r Result) ClassificationRejected() bool {
	return r.Found && r.StatusCode == StatusClassificationError
}

// Parse reads an authority reply. It never fails: callers branch on Found.
func Parse(body []byte) Result {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Result{}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		return Result{}
	}

	for _, tag := range searchOrder {
		el := doc.FindElement("//" + tag)
		if el == nil {
			continue
		}
		code, ok := intChild(el, "cStat")
		if !ok {
			continue
		}
		res := Result{
			Found:      true,
			Source:     tag,
			StatusCode: code,
			Reason:     textChild(el, "xMotivo"),
			Protocol:   textChild(el, "nProt"),
			AccessKey:  textChild(el, "chNFe"),
			ReceivedAt: timeChild(el, "dhRecbto", "dhRegEvento"),
			Receipt:    textChild(el, "nRec"),
		}
		if res.Receipt == "" {
			if rec := el.FindElement(".//infRec/nRec"); rec != nil {
				res.Receipt = strings.TrimSpace(rec.Text())
			}
		}
		if tag == "infProt" {
			lotStatus(doc, &res)
		}
		return res
	}
	return Result{}
}

func lotStatus(doc *etree.Document, res *Result) {
	for _, tag := range []string{"retEnviNFe", "retConsReciNFe"} {
		lot := doc.FindElement("//" + tag)
		if lot == nil {
			continue
		}
		if code, ok := intChild(lot, "cStat"); ok {
			res.LotStatusCode = code
			res.LotReason = textChild(lot, "xMotivo")
			return
		}
	}
}

func textChild(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

func intChild(el *etree.Element, tag string) (int, bool) {
	n, err := strconv.Atoi(textChild(el, tag))
	if err != nil {
		return 0, false
	}
	return n, true
}

func timeChild(el *etree.Element, tags ...string) time.Time {
	for _, tag := range tags {
		s := textChild(el, tag)
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
