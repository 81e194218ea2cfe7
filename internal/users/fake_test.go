package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memRepo is an in-memory RepositoryPort.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]User
	hashes   map[int64]string
	onDelete func(id int64)
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]User{}, hashes: map[int64]string{}}
}

func (r *memRepo) matches(u User, query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.Name), q)
}

func (r *memRepo) CountUsers(_ context.Context, query string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if r.matches(u, query) {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ListUsers(_ context.Context, query string, limit, offset int) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []User
	for _, u := range r.users {
		if r.matches(u, query) {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	if offset >= len(list) {
		return nil, nil
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end], nil
}

func (r *memRepo) GetUser(_ context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *memRepo) emailTaken(email string, except int64) bool {
	for id, u := range r.users {
		if id != except && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateUser(_ context.Context, in Input, passwordHash string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emailTaken(in.Email, 0) {
		return User{}, ErrEmailTaken
	}
	r.nextID++
	now := time.Now()
	u := User{ID: r.nextID, Email: in.Email, Name: in.Name, IsActive: in.IsActive, CreatedAt: now, UpdatedAt: now}
	r.users[u.ID] = u
	r.hashes[u.ID] = passwordHash
	return u, nil
}

func (r *memRepo) UpdateUser(_ context.Context, id int64, in Input, passwordHash string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if r.emailTaken(in.Email, id) {
		return User{}, ErrEmailTaken
	}
	u.Email, u.Name, u.IsActive, u.UpdatedAt = in.Email, in.Name, in.IsActive, time.Now()
	r.users[id] = u
	if passwordHash != "" {
		r.hashes[id] = passwordHash
	}
	return u, nil
}

func (r *memRepo) DeleteUser(_ context.Context, id int64) error {
	r.mu.Lock()
	if _, ok := r.users[id]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.users, id)
	delete(r.hashes, id)
	r.mu.Unlock()
	if r.onDelete != nil {
		r.onDelete(id)
	}
	return nil
}
