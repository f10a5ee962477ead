// Package selector implements the two expression languages used to pick
// hosts out of an inventory: an IP-set expression language (this file)
// and a label predicate language (label.go), composed by select.go.
package selector

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// ParseError reports a malformed selector expression. It is the only
// error type the selector package returns; every other failure mode
// (an address that doesn't parse at match time, an unparseable label
// condition) evaluates to false instead of erroring, per spec.
type ParseError struct {
	Expr    string
	Problem string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("selector: invalid expression %q: %s", e.Expr, e.Problem)
}

// ipPrimitive is one inclusion or exclusion term: a single address, a
// CIDR block, an inclusive start-end range, or a field-enumeration.
type ipPrimitive interface {
	contains(ip uint32) bool
	// iterate calls yield for every address the primitive denotes, in
	// ascending primitive-local order, stopping early if yield returns
	// false.
	iterate(yield func(uint32) bool)
}

// IPSet is a parsed IP expression: a union of inclusion primitives
// minus a union of exclusion primitives. Membership queries run in
// O(primitives), never materializing the set.
type IPSet struct {
	expr     string
	includes []ipPrimitive
	excludes []ipPrimitive
}

// ParseIPSet parses an IP-set expression. An empty expression parses to
// an IPSet that matches nothing (callers treat "" as "unrestricted" one
// level up, in Select).
func ParseIPSet(expr string) (*IPSet, error) {
	trimmed := strings.TrimSpace(expr)
	set := &IPSet{expr: trimmed}
	if trimmed == "" {
		return set, nil
	}

	includePart, excludePart, hasExclude := splitExclusion(trimmed)

	includes, err := parseUnion(includePart)
	if err != nil {
		return nil, err
	}
	set.includes = includes

	if hasExclude {
		excludes, err := parseUnion(excludePart)
		if err != nil {
			return nil, err
		}
		set.excludes = excludes
	}
	return set, nil
}

// splitExclusion splits "include ! exclude" on the first top-level '!'.
func splitExclusion(expr string) (include, exclude string, has bool) {
	depth := 0
	for i, r := range expr {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case '!':
			if depth == 0 {
				return strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+1:]), true
			}
		}
	}
	return expr, "", false
}

// splitUnion splits on top-level commas, respecting '[' ']' depth so
// that field-enumeration brackets like "[22:24,33]" are not cut.
func splitUnion(expr string) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	for _, r := range expr {
		switch r {
		case '[':
			depth++
			cur.WriteRune(r)
		case ']':
			depth--
			cur.WriteRune(r)
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}

func parseUnion(expr string) ([]ipPrimitive, error) {
	var out []ipPrimitive
	for _, part := range splitUnion(expr) {
		if part == "" {
			continue
		}
		prim, err := parsePrimitive(part)
		if err != nil {
			return nil, err
		}
		out = append(out, prim)
	}
	return out, nil
}

func parsePrimitive(part string) (ipPrimitive, error) {
	switch {
	case strings.Contains(part, "[") && strings.Contains(part, "]"):
		return parseFieldEnum(part)
	case strings.Contains(part, "/"):
		return parseCIDR(part)
	case strings.Contains(part, "-"):
		return parseRange(part)
	default:
		return parseSingle(part)
	}
}

func parseSingle(s string) (ipPrimitive, error) {
	ip, err := parseIPv4(s)
	if err != nil {
		return nil, &ParseError{Expr: s, Problem: err.Error()}
	}
	return singleAddr(ip), nil
}

func parseRange(s string) (ipPrimitive, error) {
	pieces := strings.SplitN(s, "-", 2)
	if len(pieces) != 2 {
		return nil, &ParseError{Expr: s, Problem: "malformed range"}
	}
	start, err := parseIPv4(strings.TrimSpace(pieces[0]))
	if err != nil {
		return nil, &ParseError{Expr: s, Problem: err.Error()}
	}
	end, err := parseIPv4(strings.TrimSpace(pieces[1]))
	if err != nil {
		return nil, &ParseError{Expr: s, Problem: err.Error()}
	}
	if start > end {
		return nil, &ParseError{Expr: s, Problem: "reversed range: start > end"}
	}
	return ipRange{start: start, end: end}, nil
}

func parseCIDR(s string) (ipPrimitive, error) {
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		return nil, &ParseError{Expr: s, Problem: err.Error()}
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, &ParseError{Expr: s, Problem: "not an IPv4 CIDR"}
	}
	if ones > 32 {
		return nil, &ParseError{Expr: s, Problem: "CIDR suffix out of range"}
	}
	base := ipv4ToUint32(network.IP.To4())
	size := uint32(1) << uint(32-ones)
	first := base
	last := base + size - 1
	return cidrRange{first: first, last: last, hostOnly: size > 2}, nil
}

func parseFieldEnum(s string) (ipPrimitive, error) {
	fields := strings.Split(s, ".")
	if len(fields) != 4 {
		return nil, &ParseError{Expr: s, Problem: "field-enumeration needs exactly four octet positions"}
	}
	var octets [4][]int
	for i, field := range fields {
		values, err := parseOctetSpec(field)
		if err != nil {
			return nil, &ParseError{Expr: s, Problem: err.Error()}
		}
		octets[i] = values
	}
	return fieldEnum{octets: octets}, nil
}

func parseOctetSpec(field string) ([]int, error) {
	field = strings.TrimSpace(field)
	if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
		inner := field[1 : len(field)-1]
		seen := map[int]bool{}
		var values []int
		for _, item := range strings.Split(inner, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if strings.Contains(item, ":") {
				bounds := strings.SplitN(item, ":", 2)
				lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
				if err != nil {
					return nil, fmt.Errorf("bad range bound %q", item)
				}
				hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
				if err != nil {
					return nil, fmt.Errorf("bad range bound %q", item)
				}
				if lo > hi {
					return nil, fmt.Errorf("reversed octet range %q", item)
				}
				for v := lo; v <= hi; v++ {
					if v < 0 || v > 255 {
						return nil, fmt.Errorf("octet value %d out of range", v)
					}
					if !seen[v] {
						seen[v] = true
						values = append(values, v)
					}
				}
			} else {
				v, err := strconv.Atoi(item)
				if err != nil {
					return nil, fmt.Errorf("bad octet value %q", item)
				}
				if v < 0 || v > 255 {
					return nil, fmt.Errorf("octet value %d out of range", v)
				}
				if !seen[v] {
					seen[v] = true
					values = append(values, v)
				}
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("empty bracket content %q", field)
		}
		sort.Ints(values)
		return values, nil
	}
	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("bad octet field %q", field)
	}
	if v < 0 || v > 255 {
		return nil, fmt.Errorf("octet value %d out of range", v)
	}
	return []int{v}, nil
}

func parseIPv4(s string) (uint32, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("not an IPv4 address %q", s)
	}
	return ipv4ToUint32(v4), nil
}

func ipv4ToUint32(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIPv4(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// singleAddr is a one-address primitive.
type singleAddr uint32

func (a singleAddr) contains(ip uint32) bool { return uint32(a) == ip }
func (a singleAddr) iterate(yield func(uint32) bool) {
	yield(uint32(a))
}

// ipRange is an inclusive start-end primitive; both endpoints included.
type ipRange struct{ start, end uint32 }

func (r ipRange) contains(ip uint32) bool { return ip >= r.start && ip <= r.end }
func (r ipRange) iterate(yield func(uint32) bool) {
	for v := r.start; ; v++ {
		if !yield(v) || v == r.end {
			return
		}
	}
}

// cidrRange is a CIDR block. When hostOnly is set (blocks with more
// than two addresses), the network and broadcast addresses are
// excluded so that e.g. a /30 enumerates exactly two hosts.
type cidrRange struct {
	first, last uint32
	hostOnly    bool
}

func (c cidrRange) bounds() (uint32, uint32) {
	if c.hostOnly {
		return c.first + 1, c.last - 1
	}
	return c.first, c.last
}

func (c cidrRange) contains(ip uint32) bool {
	lo, hi := c.bounds()
	return ip >= lo && ip <= hi
}

func (c cidrRange) iterate(yield func(uint32) bool) {
	lo, hi := c.bounds()
	for v := lo; ; v++ {
		if !yield(v) || v == hi {
			return
		}
	}
}

// fieldEnum is the Cartesian product of four per-octet value sets.
type fieldEnum struct {
	octets [4][]int
}

func (f fieldEnum) fieldContains(pos int, v int) bool {
	for _, candidate := range f.octets[pos] {
		if candidate == v {
			return true
		}
	}
	return false
}

func (f fieldEnum) contains(ip uint32) bool {
	a := int(ip >> 24 & 0xFF)
	b := int(ip >> 16 & 0xFF)
	c := int(ip >> 8 & 0xFF)
	d := int(ip & 0xFF)
	return f.fieldContains(0, a) && f.fieldContains(1, b) && f.fieldContains(2, c) && f.fieldContains(3, d)
}

func (f fieldEnum) iterate(yield func(uint32) bool) {
	for _, a := range f.octets[0] {
		for _, b := range f.octets[1] {
			for _, c := range f.octets[2] {
				for _, d := range f.octets[3] {
					v := uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
					if !yield(v) {
						return
					}
				}
			}
		}
	}
}

// Matches reports whether addr (a dotted-quad string) is in the set:
// included by some inclusion primitive and excluded by none. An addr
// that fails to parse never matches.
func (s *IPSet) Matches(addr string) bool {
	if s == nil || len(s.includes) == 0 {
		return false
	}
	ip, err := parseIPv4(addr)
	if err != nil {
		return false
	}
	included := false
	for _, p := range s.includes {
		if p.contains(ip) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range s.excludes {
		if p.contains(ip) {
			return false
		}
	}
	return true
}

// Empty reports whether the expression the set was built from was blank.
func (s *IPSet) Empty() bool {
	return s == nil || s.expr == ""
}

// Expand yields up to limit addresses of the set, deduplicated and
// sorted ascending by numeric IPv4 value. limit <= 0 is treated as the
// default cap of 10000, except that a limit of exactly 0 yields no
// addresses (mirroring the reference implementation's explicit
// zero-means-empty case).
func (s *IPSet) Expand(limit int) []string {
	const defaultLimit = 10000
	if limit == 0 {
		return nil
	}
	if limit < 0 {
		limit = defaultLimit
	}
	if s == nil {
		return nil
	}

	cacheSize := limit * 2
	if cacheSize > defaultLimit || cacheSize <= 0 {
		cacheSize = defaultLimit
	}

	seen := newFIFOSet(cacheSize)
	var result []uint32

	for _, inc := range s.includes {
		inc.iterate(func(ip uint32) bool {
			if seen.Contains(ip) {
				return len(result) < limit
			}
			seen.Add(ip)

			excluded := false
			for _, exc := range s.excludes {
				if exc.contains(ip) {
					excluded = true
					break
				}
			}
			if !excluded {
				result = append(result, ip)
			}
			return len(result) < limit
		})
		if len(result) >= limit {
			break
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	out := make([]string, len(result))
	for i, v := range result {
		out[i] = uint32ToIPv4(v)
	}
	return out
}

// fifoSet is a bounded dedup cache: oldest entries are evicted first,
// mirroring the reference implementation's LRU-via-OrderedDict cache.
type fifoSet struct {
	capacity int
	set      map[uint32]struct{}
	order    []uint32
}

func newFIFOSet(capacity int) *fifoSet {
	return &fifoSet{capacity: capacity, set: make(map[uint32]struct{}, capacity)}
}

func (f *fifoSet) Contains(v uint32) bool {
	_, ok := f.set[v]
	return ok
}

func (f *fifoSet) Add(v uint32) {
	if _, ok := f.set[v]; ok {
		return
	}
	f.set[v] = struct{}{}
	f.order = append(f.order, v)
	if len(f.order) > f.capacity {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.set, oldest)
	}
}
