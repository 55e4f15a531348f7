// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package eid implements Bundle Protocol v7 Endpoint Identifiers, their
// wire encoding and the node/group pattern matching used by routing and
// the application agent.
package eid

import (
	"fmt"
	"io"
	"net/url"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dtn7/cboring"
)

// SchemeType describes the scheme-specific part of an EndpointID.
//
// MarshalCbor must be a value receiver and UnmarshalCbor a pointer receiver;
// Go's interfaces cannot express that split, so both are declared here.
type SchemeType interface {
	SchemeName() string
	SchemeNo() uint64
	Authority() string
	Path() string
	IsSingleton() bool
	CheckValid() error
	MarshalCbor(io.Writer) error
	fmt.Stringer
}

type schemeRegistry struct {
	byNo   map[uint64]reflect.Type
	byName map[string]func(string) (SchemeType, error)
}

var (
	registry      *schemeRegistry
	registryMutex sync.Mutex
)

func getRegistry() *schemeRegistry {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if registry == nil {
		registry = &schemeRegistry{
			byNo:   make(map[uint64]reflect.Type),
			byName: make(map[string]func(string) (SchemeType, error)),
		}

		for _, s := range []struct {
			no   uint64
			name string
			impl interface{}
			new  func(string) (SchemeType, error)
		}{
			{dtnSchemeNo, dtnSchemeName, DtnEndpoint{}, newDtnEndpoint},
			{ipnSchemeNo, ipnSchemeName, IpnEndpoint{}, newIpnEndpoint},
		} {
			registry.byNo[s.no] = reflect.TypeOf(s.impl)
			registry.byName[s.name] = s.new
		}
	}

	return registry
}

// RegisterScheme adds a third-party URI scheme to the registry. Intended for
// callers that need more than dtn/ipn; dtn and ipn themselves are registered
// unconditionally at package init.
func RegisterScheme(no uint64, name string, impl SchemeType, newFunc func(string) (SchemeType, error)) {
	r := getRegistry()
	registryMutex.Lock()
	defer registryMutex.Unlock()
	r.byNo[no] = reflect.TypeOf(impl)
	r.byName[name] = newFunc
}

// EndpointID represents an Endpoint ID as defined in RFC 9171 4.2.5.1.
type EndpointID struct {
	SchemeType SchemeType
}

var schemeRe = regexp.MustCompile("^([[:alnum:]]+):.+$")

// Parse an EndpointID from its URI form, e.g. "dtn://seven/mail".
func Parse(uri string) (EndpointID, error) {
	matches := schemeRe.FindStringSubmatch(uri)
	if len(matches) == 0 {
		return EndpointID{}, fmt.Errorf("eid: %q does not match scheme:ssp", uri)
	}

	scheme := matches[1]
	newFunc, ok := getRegistry().byName[scheme]
	if !ok {
		return EndpointID{}, fmt.Errorf("eid: no handler registered for scheme %q", scheme)
	}

	st, err := newFunc(uri)
	if err != nil {
		return EndpointID{}, err
	}
	return EndpointID{st}, nil
}

// MustParse is like Parse but panics on error; meant for tests and literals.
func MustParse(uri string) EndpointID {
	eid, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

// DtnNone returns the null endpoint "dtn:none".
func DtnNone() EndpointID {
	return EndpointID{DtnEndpoint{Ssp: dtnNoneSsp}}
}

// IsNone reports whether this EndpointID is the distinguished dtn:none.
func (e EndpointID) IsNone() bool {
	dtnEp, ok := e.SchemeType.(DtnEndpoint)
	return ok && dtnEp.Ssp == dtnNoneSsp
}

func (e EndpointID) Authority() string {
	return e.SchemeType.Authority()
}

func (e EndpointID) Path() string {
	return e.SchemeType.Path()
}

func (e EndpointID) IsSingleton() bool {
	return e.SchemeType.IsSingleton()
}

// SameNode checks if two EndpointIDs share scheme and authority.
func (e EndpointID) SameNode(other EndpointID) bool {
	return e.SchemeType.SchemeName() == other.SchemeType.SchemeName() &&
		e.SchemeType.Authority() == other.SchemeType.Authority()
}

// CheckValid returns an error for malformed EndpointIDs.
func (e EndpointID) CheckValid() error {
	if e.SchemeType == nil {
		return fmt.Errorf("eid: empty EndpointID")
	}
	return e.SchemeType.CheckValid()
}

// String returns the canonical description of this EndpointID: a bare
// authority never carries a trailing slash, any following path segment does.
func (e EndpointID) String() string {
	if e.SchemeType == nil {
		return DtnNone().String()
	}
	return e.SchemeType.String()
}

// Matches implements the group/prefix pattern rules: a pattern ending in
// "/*" is a prefix match, a pattern containing "/~<group>" matches any
// endpoint sharing the same node and group prefix, dtn:none matches nothing.
func (e EndpointID) Matches(pattern string) bool {
	if e.IsNone() {
		return false
	}

	patEid, err := Parse(pattern)
	if err == nil && !strings.ContainsAny(pattern, "*~") {
		return e.String() == patEid.String()
	}

	patDtn, ok := pattern, true
	if !strings.HasPrefix(pattern, dtnSchemeName+":") {
		ok = false
	}
	if !ok {
		return false
	}
	selfStr := e.String()

	if strings.HasSuffix(patDtn, "/*") {
		prefix := strings.TrimSuffix(patDtn, "*")
		return strings.HasPrefix(selfStr, prefix)
	}

	if strings.Contains(patDtn, "/~") {
		group := strings.TrimSuffix(patDtn, "/")
		return selfStr == group || strings.HasPrefix(selfStr, group+"/")
	}

	return selfStr == patDtn
}

// MarshalCbor writes the CBOR representation of this EndpointID.
func (e *EndpointID) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(e.SchemeType.SchemeNo(), w); err != nil {
		return err
	}
	return e.SchemeType.MarshalCbor(w)
}

// UnmarshalCbor reconstructs an EndpointID from its CBOR representation.
func (e *EndpointID) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("eid: expected array of 2 elements, not %d", n)
	}

	schemeNo, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	t, ok := getRegistry().byNo[schemeNo]
	if !ok {
		return fmt.Errorf("eid: no scheme registered for number %d", schemeNo)
	}

	tmp := reflect.New(t)
	ret := tmp.MethodByName("UnmarshalCbor").Call([]reflect.Value{reflect.ValueOf(r)})
	if errVal := ret[0].Interface(); errVal != nil {
		return errVal.(error)
	}
	e.SchemeType = tmp.Elem().Interface().(SchemeType)
	return nil
}

// --- dtn scheme ---

const (
	dtnSchemeName string = "dtn"
	dtnSchemeNo   uint64 = 1
	dtnNoneSsp    string = "none"
)

// DtnEndpoint is the "dtn" URI scheme: dtn://<node>[/<demux>...] or dtn:none.
type DtnEndpoint struct {
	Ssp string
}

var dtnRe = regexp.MustCompile("^" + dtnSchemeName + ":(.+)$")

func newDtnEndpoint(uri string) (SchemeType, error) {
	m := dtnRe.FindStringSubmatch(uri)
	if m == nil {
		return nil, fmt.Errorf("eid: %q is not a dtn endpoint", uri)
	}
	e := DtnEndpoint{Ssp: m[1]}
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	return e, nil
}

func (DtnEndpoint) SchemeName() string { return dtnSchemeName }
func (DtnEndpoint) SchemeNo() uint64   { return dtnSchemeNo }

func (e DtnEndpoint) IsSingleton() bool {
	return !strings.HasSuffix(e.Authority(), "~") && !strings.Contains(e.Path(), "/~")
}

func (e DtnEndpoint) parseUri() (authority, path string) {
	var full string
	if strings.HasPrefix(e.Ssp, "//") {
		full = e.String()
	} else {
		full = DtnEndpoint{Ssp: "//" + e.Ssp}.String()
	}

	u, err := url.Parse(full)
	if err != nil {
		return
	}
	return u.Hostname(), u.RequestURI()
}

func (e DtnEndpoint) Authority() string {
	a, _ := e.parseUri()
	return a
}

func (e DtnEndpoint) Path() string {
	_, p := e.parseUri()
	return p
}

func (e DtnEndpoint) CheckValid() error {
	if e.Ssp == "" {
		return fmt.Errorf("eid: dtn scheme-specific part is empty")
	}
	if e.Ssp == dtnNoneSsp {
		return nil
	}
	if !strings.HasPrefix(e.Ssp, "//") {
		return fmt.Errorf("eid: dtn authority must start with //")
	}
	if strings.TrimPrefix(e.Ssp, "//") == "" {
		return fmt.Errorf("eid: dtn authority is empty")
	}
	for _, r := range e.Ssp {
		if r > 127 {
			return fmt.Errorf("eid: dtn scheme-specific part must be ASCII")
		}
	}
	return nil
}

// String canonicalizes the bare-authority form without a trailing slash and
// keeps any following path segment's slash as-is.
func (e DtnEndpoint) String() string {
	ssp := e.Ssp
	if strings.HasPrefix(ssp, "//") {
		rest := strings.TrimPrefix(ssp, "//")
		if idx := strings.IndexByte(rest, '/'); idx < 0 {
			// bare authority, nothing after it: drop a lone trailing slash
		} else if idx == len(rest)-1 {
			rest = rest[:idx]
		}
		ssp = "//" + rest
	}
	return fmt.Sprintf("%s:%s", dtnSchemeName, ssp)
}

func (e DtnEndpoint) MarshalCbor(w io.Writer) error {
	if e.Ssp == dtnNoneSsp {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(e.Ssp, w)
}

func (e *DtnEndpoint) UnmarshalCbor(r io.Reader) error {
	m, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}
	switch m {
	case cboring.UInt:
		e.Ssp = dtnNoneSsp
	case cboring.TextString:
		raw, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}
		e.Ssp = string(raw)
	default:
		return fmt.Errorf("eid: DtnEndpoint: unexpected major type 0x%X", m)
	}
	return nil
}

// --- ipn scheme ---

const (
	ipnSchemeName string = "ipn"
	ipnSchemeNo   uint64 = 2
)

// IpnEndpoint is the "ipn" URI scheme: ipn:<node>.<service> (RFC 6260).
type IpnEndpoint struct {
	Node    uint64
	Service uint64
}

var ipnRe = regexp.MustCompile(`^` + ipnSchemeName + `:(\d+)\.(\d+)$`)

func newIpnEndpoint(uri string) (SchemeType, error) {
	m := ipnRe.FindStringSubmatch(uri)
	if m == nil {
		return nil, fmt.Errorf("eid: %q is not an ipn endpoint", uri)
	}

	node, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, err
	}
	service, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return nil, err
	}

	e := IpnEndpoint{Node: node, Service: service}
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	return e, nil
}

func (IpnEndpoint) SchemeName() string { return ipnSchemeName }
func (IpnEndpoint) SchemeNo() uint64   { return ipnSchemeNo }
func (IpnEndpoint) IsSingleton() bool  { return true }

func (e IpnEndpoint) Authority() string { return fmt.Sprintf("%d", e.Node) }
func (e IpnEndpoint) Path() string      { return fmt.Sprintf("%d", e.Service) }

func (e IpnEndpoint) CheckValid() error {
	if e.Node < 1 || e.Service < 1 {
		return fmt.Errorf("eid: ipn node and service numbers must be >= 1")
	}
	return nil
}

func (e IpnEndpoint) String() string {
	return fmt.Sprintf("%s:%d.%d", ipnSchemeName, e.Node, e.Service)
}

func (e IpnEndpoint) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, n := range []uint64{e.Node, e.Service} {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}
	return nil
}

func (e *IpnEndpoint) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("eid: ipn expects array of 2 elements, not %d", n)
	}
	for _, p := range []*uint64{&e.Node, &e.Service} {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*p = v
	}
	return nil
}
