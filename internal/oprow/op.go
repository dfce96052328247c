// Package oprow defines the operation record: one captured database command,
// replayable in isolation, and its on-disk line format.
package oprow

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Op is the kind of database operation a Record replays.
type Op int

const (
	OpNone Op = iota
	OpFind
	OpCount
	OpInsert
	OpUpdate
	OpDelete
	OpCommand
	OpAggregate
	OpGetMore
	OpFindAndModify
)

var opNames = [...]string{
	OpNone:          "None",
	OpFind:          "Find",
	OpCount:         "Count",
	OpInsert:        "Insert",
	OpUpdate:        "Update",
	OpDelete:        "Delete",
	OpCommand:       "Command",
	OpAggregate:     "Aggregate",
	OpGetMore:       "GetMore",
	OpFindAndModify: "FindAndModify",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = Op(op)
	}
	return m
}()

func (o Op) String() string {
	if int(o) < 0 || int(o) >= len(opNames) {
		return "None"
	}
	return opNames[o]
}

// ParseOp resolves a tag name back into an Op, defaulting to OpNone for
// unrecognized tags rather than failing the line.
func ParseOp(name string) Op {
	if op, ok := opByName[name]; ok {
		return op
	}
	return OpNone
}

func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*o = ParseOp(name)
	return nil
}

// Record is one replayable operation, as captured and normalized.
//
// Cmd is the original command payload; Args is a normalized, direct-driver
// submittable form derived from Cmd. Both are JSON-compatible document trees.
type Record struct {
	ID   string `json:"id"`
	Op   Op     `json:"op"`
	DB   string `json:"db"`
	Coll string `json:"coll"`
	NS   string `json:"ns"`
	TS   int64  `json:"ts"`
	Cmd  bson.M `json:"cmd"`
	Args bson.M `json:"args"`
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

// wireRecord is the on-disk shape: Cmd/Args are carried as MongoDB Extended
// JSON so that nested arrays/objects, int64, booleans and null round-trip
// exactly, while the rest of the line stays plain JSON.
type wireRecord struct {
	ID   string          `json:"id"`
	Op   Op              `json:"op"`
	DB   string          `json:"db"`
	Coll string          `json:"coll"`
	NS   string          `json:"ns"`
	TS   int64           `json:"ts"`
	Cmd  json.RawMessage `json:"cmd"`
	Args json.RawMessage `json:"args"`
	Key  string          `json:"key"`
	Hash string          `json:"hash"`
}

// Encode renders a Record as one self-contained line (no trailing newline).
// encoding/json never emits a literal newline inside a string, so values are
// escaped by construction and the line is always whole.
func Encode(r *Record) (string, error) {
	cmdJSON, err := bson.MarshalExtJSON(nonNilM(r.Cmd), true, false)
	if err != nil {
		return "", fmt.Errorf("oprow: marshal cmd: %w", err)
	}
	argsJSON, err := bson.MarshalExtJSON(nonNilM(r.Args), true, false)
	if err != nil {
		return "", fmt.Errorf("oprow: marshal args: %w", err)
	}

	wire := wireRecord{
		ID: r.ID, Op: r.Op, DB: r.DB, Coll: r.Coll, NS: r.NS, TS: r.TS,
		Cmd: cmdJSON, Args: argsJSON, Key: r.Key, Hash: r.Hash,
	}
	line, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("oprow: marshal record: %w", err)
	}
	return string(line), nil
}

// Decode parses one on-disk line back into a Record. It returns an error for
// malformed lines; callers (the reader) are responsible for skip-and-log.
func Decode(line string) (*Record, error) {
	var wire wireRecord
	if err := json.Unmarshal([]byte(line), &wire); err != nil {
		return nil, fmt.Errorf("oprow: unmarshal record: %w", err)
	}

	var cmd, args bson.M
	if len(wire.Cmd) > 0 {
		if err := bson.UnmarshalExtJSON(wire.Cmd, true, &cmd); err != nil {
			return nil, fmt.Errorf("oprow: unmarshal cmd: %w", err)
		}
	}
	if len(wire.Args) > 0 {
		if err := bson.UnmarshalExtJSON(wire.Args, true, &args); err != nil {
			return nil, fmt.Errorf("oprow: unmarshal args: %w", err)
		}
	}

	return &Record{
		ID: wire.ID, Op: wire.Op, DB: wire.DB, Coll: wire.Coll, NS: wire.NS, TS: wire.TS,
		Cmd: cmd, Args: args, Key: wire.Key, Hash: wire.Hash,
	}, nil
}

func nonNilM(m bson.M) bson.M {
	if m == nil {
		return bson.M{}
	}
	return m
}

// ComputeID derives the stable fingerprint of a command payload: a pure
// function of cmd content, used as the stuck-op watchdog key and the
// aggregation correlation id.
func ComputeID(cmd bson.M) string {
	return canonicalHash(sha1.New(), cmd)
}

// ComputeHash derives the secondary identity hash used for dedup.
func ComputeHash(cmd bson.M) string {
	return canonicalHash(md5.New(), cmd)
}

func canonicalHash(h hash.Hash, cmd bson.M) string {
	buf, _ := bson.MarshalExtJSON(canonicalize(nonNilM(cmd)), true, false)
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize recursively sorts map keys so that the serialized form used
// for hashing is independent of Go's randomized map iteration order.
func canonicalize(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := bson.D{}
		for _, k := range keys {
			ordered = append(ordered, bson.E{Key: k, Value: canonicalize(val[k])})
		}
		return ordered
	case map[string]interface{}:
		return canonicalize(bson.M(val))
	case bson.A:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	case []interface{}:
		out := make(bson.A, len(val))
		for i, e := range val {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return val
	}
}

// ComputeKey derives the canonical shape string used to bucket identically
// shaped operations for statistical reporting: command kind plus the sorted
// predicate field paths.
func ComputeKey(op Op, ns string, predicate bson.M) string {
	var paths []string
	collectPaths("", predicate, &paths)
	sort.Strings(paths)
	if len(paths) == 0 {
		return fmt.Sprintf("%s:%s", op, ns)
	}
	return fmt.Sprintf("%s:%s:%s", op, ns, strings.Join(paths, ","))
}

func collectPaths(prefix string, v interface{}, out *[]string) {
	m, ok := v.(bson.M)
	if !ok {
		if mm, ok2 := v.(map[string]interface{}); ok2 {
			m = bson.M(mm)
			ok = true
		}
	}
	if !ok {
		if prefix != "" {
			*out = append(*out, prefix)
		}
		return
	}
	if len(m) == 0 && prefix != "" {
		*out = append(*out, prefix)
		return
	}
	for k, sub := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if strings.HasPrefix(k, "$") {
			collectPaths(prefix, sub, out)
			continue
		}
		collectPaths(path, sub, out)
	}
}

// Equal reports whether a and b encode to byte-identical lines. Cmd and Args
// are encoded in map iteration order, so records whose documents hold more
// than one key can compare unequal even when their contents match.
func Equal(a, b *Record) bool {
	ae, _ := Encode(a)
	be, _ := Encode(b)
	return bytes.Equal([]byte(ae), []byte(be))
}
