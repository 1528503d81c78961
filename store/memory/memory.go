// Package memory provides an in-memory TxStore implementation
// (for testing/dev).
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bprnd/certification-engine/claims"
	"github.com/bprnd/certification-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of claims.TxStore
// =============================================================================

// Store keeps everything in maps guarded by one mutex. WithTx snapshots
// the maps and restores them if the function fails, which gives the same
// all-or-nothing semantics as a database transaction.
type Store struct {
	mu sync.RWMutex

	students     map[ledger.StudentID]ledger.Student
	claimRecords map[claims.ClaimID]claims.Claim
	certificates map[claims.CertificateID]claims.Certificate
	certByClaim  map[claims.ClaimID]claims.CertificateID
	counters     map[string]int64

	// Preserves insertion order for stable listings.
	claimOrder []claims.ClaimID
	certOrder  []claims.CertificateID
}

func New() *Store {
	return &Store{
		students:     make(map[ledger.StudentID]ledger.Student),
		claimRecords: make(map[claims.ClaimID]claims.Claim),
		certificates: make(map[claims.CertificateID]claims.Certificate),
		certByClaim:  make(map[claims.ClaimID]claims.CertificateID),
		counters:     make(map[string]int64),
	}
}

// Reset drops all data. Used by the demo scenario loaders.
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.students = make(map[ledger.StudentID]ledger.Student)
	m.claimRecords = make(map[claims.ClaimID]claims.Claim)
	m.certificates = make(map[claims.CertificateID]claims.Certificate)
	m.certByClaim = make(map[claims.ClaimID]claims.CertificateID)
	m.counters = make(map[string]int64)
	m.claimOrder = nil
	m.certOrder = nil
	return nil
}

// =============================================================================
// STUDENTS
// =============================================================================

func (m *Store) GetStudent(_ context.Context, id ledger.StudentID) (*ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStudentLocked(id)
}

func (m *Store) getStudentLocked(id ledger.StudentID) (*ledger.Student, error) {
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	out := s.Clone()
	return &out, nil
}

func (m *Store) SaveStudent(_ context.Context, s ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s.Clone()
	return nil
}

func (m *Store) ListStudents(_ context.Context) ([]ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// CLAIMS
// =============================================================================

func (m *Store) GetClaim(_ context.Context, id claims.ClaimID) (*claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClaimLocked(id)
}

func (m *Store) getClaimLocked(id claims.ClaimID) (*claims.Claim, error) {
	c, ok := m.claimRecords[id]
	if !ok {
		return nil, nil
	}
	out := c.Clone()
	return &out, nil
}

func (m *Store) SaveClaim(_ context.Context, c claims.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveClaimLocked(c)
}

func (m *Store) saveClaimLocked(c claims.Claim) error {
	if _, exists := m.claimRecords[c.ID]; !exists {
		m.claimOrder = append(m.claimOrder, c.ID)
	}
	m.claimRecords[c.ID] = c.Clone()
	return nil
}

func (m *Store) ListClaims(_ context.Context, filter claims.ClaimFilter) ([]claims.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []claims.Claim
	for _, id := range m.claimOrder {
		c := m.claimRecords[id]
		if filter.Matches(&c) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (m *Store) TransitionStatus(_ context.Context, id claims.ClaimID, from, to claims.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionStatusLocked(id, from, to)
}

func (m *Store) transitionStatusLocked(id claims.ClaimID, from, to claims.Status) error {
	c, ok := m.claimRecords[id]
	if !ok {
		return claims.ErrClaimNotFound
	}
	if c.Status != from {
		return claims.ErrConcurrencyConflict
	}
	c.Status = to
	m.claimRecords[id] = c
	return nil
}

// =============================================================================
// CERTIFICATES
// =============================================================================

func (m *Store) GetCertificate(_ context.Context, id claims.CertificateID) (*claims.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.certificates[id]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (m *Store) CertificateForClaim(_ context.Context, claimID claims.ClaimID) (*claims.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.certificateForClaimLocked(claimID)
}

func (m *Store) certificateForClaimLocked(claimID claims.ClaimID) (*claims.Certificate, error) {
	id, ok := m.certByClaim[claimID]
	if !ok {
		return nil, nil
	}
	c := m.certificates[id]
	return &c, nil
}

func (m *Store) SaveCertificate(_ context.Context, cert claims.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCertificateLocked(cert)
}

func (m *Store) saveCertificateLocked(cert claims.Certificate) error {
	if _, exists := m.certificates[cert.ID]; !exists {
		m.certOrder = append(m.certOrder, cert.ID)
	}
	m.certificates[cert.ID] = cert
	m.certByClaim[cert.ClaimID] = cert.ID
	return nil
}

func (m *Store) ListCertificates(_ context.Context, filter claims.CertificateFilter) ([]claims.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []claims.Certificate
	for _, id := range m.certOrder {
		c := m.certificates[id]
		if filter.Matches(&c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Store) NextCertificateSequence(_ context.Context, categoryKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSequenceLocked(categoryKey)
}

func (m *Store) nextSequenceLocked(categoryKey string) (int64, error) {
	m.counters[categoryKey]++
	return m.counters[categoryKey], nil
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback under the store mutex
// =============================================================================

// WithTx executes fn while holding the store lock. On error the state is
// restored from a snapshot, so partial writes never become visible. The
// counters are part of the snapshot: an aborted finalization does not
// burn a certificate sequence number.
func (m *Store) WithTx(ctx context.Context, fn func(claims.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	view := &txView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	students     map[ledger.StudentID]ledger.Student
	claimRecords map[claims.ClaimID]claims.Claim
	certificates map[claims.CertificateID]claims.Certificate
	certByClaim  map[claims.ClaimID]claims.CertificateID
	counters     map[string]int64
	claimOrder   []claims.ClaimID
	certOrder    []claims.CertificateID
}

func (m *Store) snapshot() snapshot {
	s := snapshot{
		students:     make(map[ledger.StudentID]ledger.Student, len(m.students)),
		claimRecords: make(map[claims.ClaimID]claims.Claim, len(m.claimRecords)),
		certificates: make(map[claims.CertificateID]claims.Certificate, len(m.certificates)),
		certByClaim:  make(map[claims.ClaimID]claims.CertificateID, len(m.certByClaim)),
		counters:     make(map[string]int64, len(m.counters)),
		claimOrder:   append([]claims.ClaimID(nil), m.claimOrder...),
		certOrder:    append([]claims.CertificateID(nil), m.certOrder...),
	}
	for k, v := range m.students {
		s.students[k] = v.Clone()
	}
	for k, v := range m.claimRecords {
		s.claimRecords[k] = v.Clone()
	}
	for k, v := range m.certificates {
		s.certificates[k] = v
	}
	for k, v := range m.certByClaim {
		s.certByClaim[k] = v
	}
	for k, v := range m.counters {
		s.counters[k] = v
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.students = s.students
	m.claimRecords = s.claimRecords
	m.certificates = s.certificates
	m.certByClaim = s.certByClaim
	m.counters = s.counters
	m.claimOrder = s.claimOrder
	m.certOrder = s.certOrder
}

// txView gives fn access to the locked store without re-acquiring the
// mutex.
type txView struct {
	parent *Store
}

func (t *txView) GetStudent(_ context.Context, id ledger.StudentID) (*ledger.Student, error) {
	return t.parent.getStudentLocked(id)
}

func (t *txView) SaveStudent(_ context.Context, s ledger.Student) error {
	t.parent.students[s.ID] = s.Clone()
	return nil
}

func (t *txView) ListStudents(_ context.Context) ([]ledger.Student, error) {
	out := make([]ledger.Student, 0, len(t.parent.students))
	for _, s := range t.parent.students {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *txView) GetClaim(_ context.Context, id claims.ClaimID) (*claims.Claim, error) {
	return t.parent.getClaimLocked(id)
}

func (t *txView) SaveClaim(_ context.Context, c claims.Claim) error {
	return t.parent.saveClaimLocked(c)
}

func (t *txView) ListClaims(_ context.Context, filter claims.ClaimFilter) ([]claims.Claim, error) {
	var out []claims.Claim
	for _, id := range t.parent.claimOrder {
		c := t.parent.claimRecords[id]
		if filter.Matches(&c) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (t *txView) TransitionStatus(_ context.Context, id claims.ClaimID, from, to claims.Status) error {
	return t.parent.transitionStatusLocked(id, from, to)
}

func (t *txView) GetCertificate(_ context.Context, id claims.CertificateID) (*claims.Certificate, error) {
	c, ok := t.parent.certificates[id]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (t *txView) CertificateForClaim(_ context.Context, claimID claims.ClaimID) (*claims.Certificate, error) {
	return t.parent.certificateForClaimLocked(claimID)
}

func (t *txView) SaveCertificate(_ context.Context, cert claims.Certificate) error {
	return t.parent.saveCertificateLocked(cert)
}

func (t *txView) ListCertificates(_ context.Context, filter claims.CertificateFilter) ([]claims.Certificate, error) {
	var out []claims.Certificate
	for _, id := range t.parent.certOrder {
		c := t.parent.certificates[id]
		if filter.Matches(&c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *txView) NextCertificateSequence(_ context.Context, categoryKey string) (int64, error) {
	return t.parent.nextSequenceLocked(categoryKey)
}
