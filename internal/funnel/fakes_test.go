package funnel

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ykvlv/funnel-bot/internal/domain"
	"github.com/ykvlv/funnel-bot/internal/store"
)

// memRepo is an in-memory store.Repo.
type memRepo struct {
	mu        sync.Mutex
	users     map[int64]domain.User
	schedules map[int64]domain.Schedule
	attempted map[int64]time.Time
	creates   int

	listDueErr error
	getUserErr error
	markErr    error
	onListDue  func()
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:     make(map[int64]domain.User),
		schedules: make(map[int64]domain.Schedule),
		attempted: make(map[int64]time.Time),
	}
}

func (r *memRepo) GetUser(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getUserErr != nil {
		return nil, r.getUserErr
	}
	u, ok := r.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *memRepo) GetSchedule(_ context.Context, id int64) (*domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (r *memRepo) CreateUserWithSchedule(_ context.Context, u *domain.User, s domain.Schedule) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return false, nil
	}
	r.users[u.ID] = *u
	r.schedules[u.ID] = s
	r.creates++
	return true, nil
}

func (r *memRepo) SetStatus(_ context.Context, id int64, status domain.Status, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.Status == status || at.Before(u.StatusUpdatedAt) {
		return false, nil
	}
	u.Status = status
	u.StatusUpdatedAt = at
	r.users[id] = u
	return true, nil
}

func (r *memRepo) ListDue(_ context.Context, now time.Time, limit int) ([]store.DueEntry, error) {
	if r.onListDue != nil {
		defer r.onListDue()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listDueErr != nil {
		return nil, r.listDueErr
	}
	var res []store.DueEntry
	for id, u := range r.users {
		if u.Status != domain.StatusAlive {
			continue
		}
		s, ok := r.schedules[id]
		if !ok {
			continue
		}
		if _, due := s.NextDue(now); due {
			res = append(res, store.DueEntry{User: u, Schedule: s})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		ai, aj := r.attempted[res[i].User.ID], r.attempted[res[j].User.ID]
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		if !res[i].User.CreatedAt.Equal(res[j].User.CreatedAt) {
			return res[i].User.CreatedAt.Before(res[j].User.CreatedAt)
		}
		return res[i].User.ID < res[j].User.ID
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *memRepo) MarkStepSent(_ context.Context, id int64, step domain.Step, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return false, r.markErr
	}
	s, ok := r.schedules[id]
	if !ok || !s.MarkSent(step) {
		return false, nil
	}
	r.schedules[id] = s
	r.attempted[id] = at
	u := r.users[id]
	u.LastMessageSentAt = &at
	r.users[id] = u
	return true, nil
}

func (r *memRepo) MarkAttempted(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; ok {
		r.attempted[id] = at
	}
	return nil
}

func (r *memRepo) ListOrphans(_ context.Context, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, u := range r.users {
		if _, ok := r.schedules[id]; !ok && u.Status == domain.StatusAlive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memRepo) CountByStatus(context.Context) (map[domain.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := map[domain.Status]int{}
	for _, u := range r.users {
		res[u.Status]++
	}
	return res, nil
}

func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

func (r *memRepo) user(id int64) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *memRepo) schedule(id int64) domain.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedules[id]
}

type sent struct {
	chatID int64
	text   string
}

// fakeMessenger records sends and serves canned history.
type fakeMessenger struct {
	mu       sync.Mutex
	sent     []sent
	history  map[int64][]string
	reads    int
	sendErr  error
	failFor  map[int64]error    // per-chat send errors
	forgot   []int64
	histErr  error
	histGate chan struct{}      // when set, RecentHistory blocks until closed
	onHist   func()
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{history: make(map[int64][]string)}
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if err := m.failFor[chatID]; err != nil {
		return err
	}
	m.sent = append(m.sent, sent{chatID: chatID, text: text})
	return nil
}

func (m *fakeMessenger) RecentHistory(_ context.Context, chatID int64, _ int) ([]string, error) {
	if m.onHist != nil {
		m.onHist()
	}
	if m.histGate != nil {
		<-m.histGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.histErr != nil {
		return nil, m.histErr
	}
	return append([]string(nil), m.history[chatID]...), nil
}

func (m *fakeMessenger) ForgetHistory(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, chatID)
	m.forgot = append(m.forgot, chatID)
}

func (m *fakeMessenger) forgotten() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.forgot...)
}

func (m *fakeMessenger) addHistory(chatID int64, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[chatID] = append(m.history[chatID], text)
}

func (m *fakeMessenger) sends() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

func (m *fakeMessenger) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

var errBoom = errors.New("boom")
