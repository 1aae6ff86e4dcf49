package store

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"undostore/internal/codec"
	"undostore/internal/undo"
)

// Description is a point-in-time diagnostic view of a Store. It shares no
// memory with the store.
type Description struct {
	Location   string
	State      map[string]any
	Pending    []undo.Entry // oldest first
	LastCommit string       // empty until the first commit
}

// String renders the description for operators, e.g.
//
//	Store(
//		location="/var/lib/app/store.json",
//		last_commit="5f0c...",
//		data={"a":1},
//		pending=[a<-<absent>]
//	)
func (d Description) String() string {
	data, err := codec.Encode(d.State)
	if err != nil {
		data = []byte(fmt.Sprintf("<unencodable: %v>", err))
	}

	pending := make([]string, len(d.Pending))
	for i, e := range d.Pending {
		pending[i] = e.Key + "<-" + priorString(e)
	}

	var b strings.Builder
	b.WriteString("Store(\n")
	fmt.Fprintf(&b, "\tlocation=%q,\n", d.Location)
	if d.LastCommit != "" {
		fmt.Fprintf(&b, "\tlast_commit=%q,\n", d.LastCommit)
	}
	fmt.Fprintf(&b, "\tdata=%s,\n", data)
	fmt.Fprintf(&b, "\tpending=[%s]\n", strings.Join(pending, ", "))
	b.WriteString(")")
	return b.String()
}

func priorString(e undo.Entry) string {
	if e.Absent() {
		return fmt.Sprint(e.Prior)
	}
	raw, err := json.Marshal(e.Prior)
	if err != nil {
		return fmt.Sprintf("%v", e.Prior)
	}
	return string(raw)
}
