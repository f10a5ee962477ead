// Package selector implements the two independent host-matching
// languages (IP-set expressions and label predicates) and their
// composition into a single Select entry point.
package selector

import "github.com/Nordstrom/pssh/internal/model"

// Select returns the subset of hosts matching both ipExpr and
// labelExpr. Either expression may be empty, in which case it imposes
// no constraint. A host with a blank Address never matches a non-empty
// ipExpr.
//
// The two languages are evaluated independently and combined with AND:
// there is no way to OR an IP constraint against a label constraint.
func Select(hosts []model.Host, ipExpr, labelExpr string) ([]model.Host, error) {
	ipSet, err := ParseIPSet(ipExpr)
	if err != nil {
		return nil, err
	}
	predicate := ParseLabelPredicate(labelExpr)

	matched := make([]model.Host, 0, len(hosts))
	for _, h := range hosts {
		if !ipSet.Empty() && !ipSet.Matches(h.Address) {
			continue
		}
		if !predicate.Matches(h.Labels) {
			continue
		}
		matched = append(matched, h)
	}
	return matched, nil
}
