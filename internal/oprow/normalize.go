package oprow

import "go.mongodb.org/mongo-driver/bson"

// DefaultIgnoreFields are the session-scoped and cluster-specific fields
// stripped from cmd on load, per the capture side's own normalization.
var DefaultIgnoreFields = []string{"lsid", "$clusterTime", "$db"}

// Normalize strips session/cluster fields from r.Cmd, derives r.Args as a
// driver-submittable document, fills r.NS if empty, and computes r.Key.
// ignoreFields extends DefaultIgnoreFields with deployment-specific fields.
func Normalize(r *Record, ignoreFields []string) {
	r.Cmd = stripFields(r.Cmd, append(append([]string{}, DefaultIgnoreFields...), ignoreFields...))

	if r.NS == "" && r.DB != "" && r.Coll != "" {
		r.NS = r.DB + "." + r.Coll
	}

	r.Args = deriveArgs(r.Op, r.Cmd)
	r.Key = ComputeKey(r.Op, r.NS, predicateOf(r.Op, r.Cmd))

	if r.ID == "" {
		r.ID = ComputeID(r.Cmd)
	}
	if r.Hash == "" {
		r.Hash = ComputeHash(r.Cmd)
	}
}

func stripFields(m bson.M, fields []string) bson.M {
	if m == nil {
		return bson.M{}
	}
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// deriveArgs builds the normalized argument document direct-submitted to the
// driver for each op kind. For Find, Count, Command, FindAndModify and None
// the cmd itself (already stripped of session fields) is the args document;
// Aggregate/Update/Delete/Insert/GetMore extract the sub-documents the engine
// actually needs at dispatch time.
func deriveArgs(op Op, cmd bson.M) bson.M {
	switch op {
	case OpAggregate:
		args := bson.M{}
		if p, ok := cmd["pipeline"]; ok {
			args["pipeline"] = p
		}
		return args
	case OpUpdate:
		if updates, ok := cmd["updates"].(bson.A); ok {
			return bson.M{"updates": updates}
		}
		return bson.M{"q": cmd["q"], "u": cmd["u"]}
	case OpDelete:
		if deletes, ok := cmd["deletes"].(bson.A); ok {
			return bson.M{"deletes": deletes}
		}
		return bson.M{"q": cmd["q"]}
	case OpInsert:
		return bson.M{"documents": cmd["documents"]}
	case OpGetMore:
		if orig, ok := cmd["originatingCommand"].(bson.M); ok {
			return stripFields(orig, DefaultIgnoreFields)
		}
		return bson.M{}
	default:
		return stripFields(cmd, nil)
	}
}

// predicateOf extracts the filter-shaped sub-document used to compute the
// aggregation key, so that queries against the same shape of filter bucket
// together regardless of literal predicate values.
func predicateOf(op Op, cmd bson.M) bson.M {
	switch op {
	case OpFind, OpCount:
		if f, ok := cmd["filter"].(bson.M); ok {
			return f
		}
		if q, ok := cmd["query"].(bson.M); ok {
			return q
		}
	case OpUpdate, OpDelete:
		if q, ok := cmd["q"].(bson.M); ok {
			return q
		}
	case OpFindAndModify:
		if q, ok := cmd["query"].(bson.M); ok {
			return q
		}
	case OpAggregate:
		return bson.M{"pipeline": cmd["pipeline"]}
	}
	return bson.M{}
}
