package domain

import (
	"io"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"
)

// notFound mimics the error libvirtd reports for a missing domain, so
// libvirt.IsNotFound recognizes it.
func notFound(name string) error {
	return libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "domain not found: " + name}
}

// mockHypervisor is a func-field mock of the hypervisor interface.
type mockHypervisor struct {
	domainLookupByNameFunc         func(name string) (libvirt.Domain, error)
	domainDefineXMLFunc            func(xml string) (libvirt.Domain, error)
	domainCreateFunc               func(dom libvirt.Domain) error
	domainGetStateFunc             func(dom libvirt.Domain, flags uint32) (int32, int32, error)
	domainDestroyFunc              func(dom libvirt.Domain) error
	domainUndefineFunc             func(dom libvirt.Domain) error
	domainInterfaceAddressesFunc   func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
	domainSnapshotCreateXMLFunc    func(dom libvirt.Domain, xml string, flags uint32) (libvirt.DomainSnapshot, error)
	domainSnapshotLookupByNameFunc func(dom libvirt.Domain, name string, flags uint32) (libvirt.DomainSnapshot, error)
	domainRevertToSnapshotFunc     func(snap libvirt.DomainSnapshot, flags uint32) error
	domainGetXMLDescFunc           func(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)

	lookupCalls    []string
	defineCalls    []string
	createCalls    []libvirt.Domain
	destroyCalls   []libvirt.Domain
	undefineCalls  []libvirt.Domain
	snapshotCalls  []string
	revertCalls    []libvirt.DomainSnapshot
	xmlDescCalls   []libvirt.Domain
	leaseCallCount int
}

// newMockHypervisor returns a mock for a single running domain.
func newMockHypervisor(domName string) *mockHypervisor {
	m := &mockHypervisor{}
	dom := libvirt.Domain{Name: domName, ID: 7}

	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		if name == domName {
			return dom, nil
		}
		return libvirt.Domain{}, notFound(name)
	}
	m.domainDefineXMLFunc = func(xml string) (libvirt.Domain, error) {
		return dom, nil
	}
	m.domainCreateFunc = func(libvirt.Domain) error { return nil }
	m.domainGetStateFunc = func(libvirt.Domain, uint32) (int32, int32, error) {
		return int32(libvirt.DomainRunning), 0, nil
	}
	m.domainDestroyFunc = func(libvirt.Domain) error { return nil }
	m.domainUndefineFunc = func(libvirt.Domain) error { return nil }
	m.domainInterfaceAddressesFunc = func(libvirt.Domain, uint32, uint32) ([]libvirt.DomainInterface, error) {
		return nil, nil
	}
	m.domainSnapshotCreateXMLFunc = func(_ libvirt.Domain, xml string, _ uint32) (libvirt.DomainSnapshot, error) {
		return libvirt.DomainSnapshot{Name: "snap", Dom: dom}, nil
	}
	m.domainSnapshotLookupByNameFunc = func(_ libvirt.Domain, name string, _ uint32) (libvirt.DomainSnapshot, error) {
		return libvirt.DomainSnapshot{Name: name, Dom: dom}, nil
	}
	m.domainRevertToSnapshotFunc = func(libvirt.DomainSnapshot, uint32) error { return nil }
	m.domainGetXMLDescFunc = func(libvirt.Domain, libvirt.DomainXMLFlags) (string, error) {
		return "<domain/>", nil
	}
	return m
}

func (m *mockHypervisor) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.lookupCalls = append(m.lookupCalls, name)
	return m.domainLookupByNameFunc(name)
}

func (m *mockHypervisor) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.defineCalls = append(m.defineCalls, xml)
	return m.domainDefineXMLFunc(xml)
}

func (m *mockHypervisor) DomainCreate(dom libvirt.Domain) error {
	m.createCalls = append(m.createCalls, dom)
	return m.domainCreateFunc(dom)
}

func (m *mockHypervisor) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	return m.domainGetStateFunc(dom, flags)
}

func (m *mockHypervisor) DomainDestroy(dom libvirt.Domain) error {
	m.destroyCalls = append(m.destroyCalls, dom)
	return m.domainDestroyFunc(dom)
}

func (m *mockHypervisor) DomainUndefine(dom libvirt.Domain) error {
	m.undefineCalls = append(m.undefineCalls, dom)
	return m.domainUndefineFunc(dom)
}

func (m *mockHypervisor) DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
	m.leaseCallCount++
	return m.domainInterfaceAddressesFunc(dom, source, flags)
}

func (m *mockHypervisor) DomainSnapshotCreateXML(dom libvirt.Domain, xml string, flags uint32) (libvirt.DomainSnapshot, error) {
	m.snapshotCalls = append(m.snapshotCalls, xml)
	return m.domainSnapshotCreateXMLFunc(dom, xml, flags)
}

func (m *mockHypervisor) DomainSnapshotLookupByName(dom libvirt.Domain, name string, flags uint32) (libvirt.DomainSnapshot, error) {
	return m.domainSnapshotLookupByNameFunc(dom, name, flags)
}

func (m *mockHypervisor) DomainRevertToSnapshot(snap libvirt.DomainSnapshot, flags uint32) error {
	m.revertCalls = append(m.revertCalls, snap)
	return m.domainRevertToSnapshotFunc(snap, flags)
}

func (m *mockHypervisor) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	m.xmlDescCalls = append(m.xmlDescCalls, dom)
	return m.domainGetXMLDescFunc(dom, flags)
}

func testController(hv hypervisor) *Controller {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Controller{hv: hv, log: log}
}
