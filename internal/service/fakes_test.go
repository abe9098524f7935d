package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory stand-ins for the stores and the inference service.
// Every fake appends to a shared callLog so tests can assert the order in
// which the pipeline touched its collaborators.

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeBlobStore records puts and returns a URL derived from the key.
type fakeBlobStore struct {
	log  *callLog
	err  error
	keys []string
	data map[string][]byte
}

func newFakeBlobStore(log *callLog) *fakeBlobStore {
	return &fakeBlobStore{log: log, data: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	f.log.add("blob.put")
	if f.err != nil {
		return "", f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	f.data[key] = b
	return "https://blobs.example.com/" + key, nil
}

// fakeAnalyzer returns a canned analysis or error. When block is set, Analyze
// waits for it to close so tests can act mid-run.
type fakeAnalyzer struct {
	log      *callLog
	result   *model.Analysis
	err      error
	block    chan struct{}
	started  chan struct{}
	requests []model.AnalysisRequest
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req model.AnalysisRequest) (*model.Analysis, error) {
	f.log.add("inference.analyze")
	f.requests = append(f.requests, req)
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

// fakeCuttingRepo is an owner-scoped in-memory CuttingRepository.
type fakeCuttingRepo struct {
	log *callLog

	mu      sync.Mutex
	rows    map[string]model.Cutting
	nextID  int
	inserts int

	createErr error
	listErr   error
	updateErr error
	deleteErr error

	// listHook, when set, runs before ListByOwner returns. Tests use it to
	// hold one load open while another completes.
	listHook func(call int)
	listCall int
}

func newFakeCuttingRepo(log *callLog) *fakeCuttingRepo {
	return &fakeCuttingRepo{log: log, rows: make(map[string]model.Cutting)}
}

func (f *fakeCuttingRepo) seed(c model.Cutting) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[c.ID] = c
}

func (f *fakeCuttingRepo) Create(_ context.Context, c *model.Cutting) error {
	f.log.add("records.insert")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	f.inserts++
	c.ID = fmt.Sprintf("cut-%03d", f.nextID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeCuttingRepo) GetByID(_ context.Context, ownerID, id string) (*model.Cutting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok || c.OwnerID != ownerID {
		return nil, apperror.NotFound("cutting", id)
	}
	return &c, nil
}

func (f *fakeCuttingRepo) ListByOwner(_ context.Context, ownerID string) ([]model.Cutting, error) {
	f.mu.Lock()
	f.listCall++
	call := f.listCall
	hook := f.listHook
	err := f.listErr
	out := []model.Cutting{}
	for _, c := range f.rows {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeCuttingRepo) UpdateNickname(_ context.Context, ownerID, id, nickname string) (*model.Cutting, error) {
	f.log.add("records.update")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	c, ok := f.rows[id]
	if !ok || c.OwnerID != ownerID {
		return nil, apperror.NotFound("cutting", id)
	}
	c.Nickname = nickname
	f.rows[id] = c
	return &c, nil
}

func (f *fakeCuttingRepo) Delete(_ context.Context, ownerID, id string) error {
	f.log.add("records.delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	c, ok := f.rows[id]
	if !ok || c.OwnerID != ownerID {
		return apperror.NotFound("cutting", id)
	}
	delete(f.rows, id)
	return nil
}

// fakeRecorder counts metric calls.
type fakeRecorder struct {
	mu           sync.Mutex
	stages       map[string]int
	submissions  map[string]int
	syncFailures map[string]int
	feedback     map[bool]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		stages:       make(map[string]int),
		submissions:  make(map[string]int),
		syncFailures: make(map[string]int),
		feedback:     make(map[bool]int),
	}
}

func (r *fakeRecorder) RecordStage(stage model.Stage, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.stages[string(stage)+"/"+outcome]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordSubmission(outcome string) {
	r.mu.Lock()
	r.submissions[outcome]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordSyncFailure(operation string) {
	r.mu.Lock()
	r.syncFailures[operation]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordCheckinFeedback(rooted bool) {
	r.mu.Lock()
	r.feedback[rooted]++
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordRateLimited(string) {}

// fakeUserRepo is an in-memory UserRepository.
type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*model.User
	nextID    int
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.Conflict("This email is already in use.")
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	stored := *u
	f.users[u.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email && u.Provider == model.ProviderPassword {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) UpsertProvider(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Provider == u.Provider && existing.ProviderSubject == u.ProviderSubject {
			u.ID = existing.ID
			*existing = *u
			return nil
		}
	}
	f.nextID++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	stored := *u
	f.users[u.ID] = &stored
	return nil
}
