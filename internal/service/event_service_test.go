package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegs-platform/aegs-api/internal/models"
	appErrors "github.com/aegs-platform/aegs-api/pkg/errors"
	"github.com/aegs-platform/aegs-api/pkg/export"
)

type mockEventRepo struct {
	events    map[string]models.EventDetail
	listCalls int
	deleted   []string
}

func (m *mockEventRepo) List(ctx context.Context, filter models.EventFilter) ([]models.EventDetail, int, error) {
	m.listCalls++
	var list []models.EventDetail
	for _, e := range m.events {
		list = append(list, e)
	}
	return list, len(list), nil
}

func (m *mockEventRepo) FindByID(ctx context.Context, id string) (*models.Event, error) {
	if e, ok := m.events[id]; ok {
		event := e.Event
		return &event, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEventRepo) FindDetailByID(ctx context.Context, id string) (*models.EventDetail, error) {
	if e, ok := m.events[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEventRepo) Create(ctx context.Context, event *models.Event) error {
	if m.events == nil {
		m.events = make(map[string]models.EventDetail)
	}
	if event.ID == "" {
		event.ID = "new-event"
	}
	m.events[event.ID] = models.EventDetail{Event: *event}
	return nil
}

func (m *mockEventRepo) Update(ctx context.Context, event *models.Event) error {
	detail := m.events[event.ID]
	detail.Event = *event
	m.events[event.ID] = detail
	return nil
}

func (m *mockEventRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.events[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.events, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type fakeCacheRepo struct {
	entries map[string][]byte
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	data, ok := f.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	f.entries[key] = data
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range f.entries {
		if strings.HasPrefix(key, prefix) {
			delete(f.entries, key)
		}
	}
	return nil
}

type mockCSVRenderer struct {
	datasets []export.Dataset
}

func (m *mockCSVRenderer) Render(data export.Dataset) ([]byte, error) {
	m.datasets = append(m.datasets, data)
	return []byte("csv"), nil
}

func newEventFixture() (*EventService, *mockEventRepo, *mockRegistrationRepo, *fakeCacheRepo, *mockCSVRenderer, *mockAuditRecorder) {
	repo := &mockEventRepo{events: map[string]models.EventDetail{
		"ev1": {
			Event:          models.Event{ID: "ev1", Type: models.EventTypeWorkshop, Location: "Lab 2", Capacity: 10, OrganizerID: "org1"},
			ConfirmedCount: 4,
		},
	}}
	registrations := &mockRegistrationRepo{}
	cacheRepo := &fakeCacheRepo{}
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	csv := &mockCSVRenderer{}
	audit := &mockAuditRecorder{}
	svc := NewEventService(repo, registrations, cache, csv, audit, validator.New(), zap.NewNop(), time.Minute)
	return svc, repo, registrations, cacheRepo, csv, audit
}

func TestEventServiceCreate(t *testing.T) {
	svc, repo, _, _, _, audit := newEventFixture()
	start := time.Now().Add(24 * time.Hour)

	detail, err := svc.Create(context.Background(), organizerClaims("org1"), CreateEventRequest{
		Type:      models.EventTypeSeminar,
		StartDate: start,
		EndDate:   start.Add(4 * time.Hour),
		Location:  "Auditorium",
		Capacity:  30,
	})
	require.NoError(t, err)
	assert.Equal(t, "org1", detail.OrganizerID)
	assert.Contains(t, repo.events, detail.ID)
	assert.Equal(t, models.AuditActionEventCreated, audit.lastAction())
}

func TestEventServiceCreateDeniedForParticipant(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	start := time.Now().Add(24 * time.Hour)

	_, err := svc.Create(context.Background(), studentClaims("s1"), CreateEventRequest{
		Type:      models.EventTypeSeminar,
		StartDate: start,
		EndDate:   start.Add(time.Hour),
		Location:  "Auditorium",
		Capacity:  30,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}

func TestEventServiceCreateRejectsInvertedDates(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	start := time.Now().Add(24 * time.Hour)

	_, err := svc.Create(context.Background(), organizerClaims("org1"), CreateEventRequest{
		Type:      models.EventTypeSeminar,
		StartDate: start,
		EndDate:   start.Add(-time.Hour),
		Location:  "Auditorium",
		Capacity:  30,
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "end_date", appErr.Details[0].Field)
}

func TestEventServiceCreateAdminAssignsOrganizer(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	start := time.Now().Add(24 * time.Hour)

	detail, err := svc.Create(context.Background(), adminClaims(), CreateEventRequest{
		Type:        models.EventTypeLecture,
		StartDate:   start,
		EndDate:     start.Add(time.Hour),
		Location:    "Room 101",
		Capacity:    50,
		OrganizerID: "org2",
	})
	require.NoError(t, err)
	assert.Equal(t, "org2", detail.OrganizerID)
}

func TestEventServiceUpdateCapacityFloor(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	capacity := 3

	_, err := svc.Update(context.Background(), organizerClaims("org1"), "ev1", UpdateEventRequest{Capacity: &capacity})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "capacity", appErr.Details[0].Field)
}

func TestEventServiceUpdateDeniedForOtherOrganizer(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()
	location := "Moved"

	_, err := svc.Update(context.Background(), organizerClaims("org2"), "ev1", UpdateEventRequest{Location: &location})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}

func TestEventServiceUpdate(t *testing.T) {
	svc, repo, _, _, _, audit := newEventFixture()
	capacity := 6

	detail, err := svc.Update(context.Background(), organizerClaims("org1"), "ev1", UpdateEventRequest{Capacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 6, detail.Capacity)
	assert.Equal(t, 6, repo.events["ev1"].Capacity)
	assert.Equal(t, models.AuditActionEventUpdated, audit.lastAction())
}

func TestEventServiceDelete(t *testing.T) {
	svc, repo, _, _, _, audit := newEventFixture()

	err := svc.Delete(context.Background(), organizerClaims("org2"), "ev1", models.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Delete(context.Background(), organizerClaims("org1"), "ev1", models.RequestMeta{}))
	assert.Contains(t, repo.deleted, "ev1")
	assert.Equal(t, models.AuditActionEventDeleted, audit.lastAction())
}

func TestEventServiceListUsesCache(t *testing.T) {
	svc, repo, _, _, _, _ := newEventFixture()

	_, _, hit, err := svc.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, repo.listCalls)

	events, pagination, hit, err := svc.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, repo.listCalls)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestEventServiceWritesInvalidateCache(t *testing.T) {
	svc, repo, _, cacheRepo, _, _ := newEventFixture()

	_, _, _, err := svc.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.NotEmpty(t, cacheRepo.entries)

	capacity := 8
	_, err = svc.Update(context.Background(), organizerClaims("org1"), "ev1", UpdateEventRequest{Capacity: &capacity})
	require.NoError(t, err)
	assert.Empty(t, cacheRepo.entries)

	_, _, hit, err := svc.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, repo.listCalls)
}

func TestEventServiceExportRegistrationsCSV(t *testing.T) {
	svc, _, registrations, _, csv, _ := newEventFixture()
	registrations.registrations = map[string]models.RegistrationDetail{
		"r1": {
			Registration:     models.Registration{ID: "r1", EventID: "ev1", ParticipantID: "s1", Status: models.RegistrationStatusConfirmed, AttendanceConfirmed: true},
			ParticipantName:  "Ana Souza",
			ParticipantEmail: "ana@example.edu",
			ParticipantRole:  models.RoleStudent,
			EventOrganizerID: "org1",
		},
	}

	data, filename, err := svc.ExportRegistrationsCSV(context.Background(), organizerClaims("org1"), "ev1")
	require.NoError(t, err)
	assert.Equal(t, []byte("csv"), data)
	assert.Equal(t, "event-ev1-registrations.csv", filename)
	require.Len(t, csv.datasets, 1)
	require.Len(t, csv.datasets[0].Rows, 1)
	assert.Equal(t, "yes", csv.datasets[0].Rows[0]["attended"])
	assert.Equal(t, "Ana Souza", csv.datasets[0].Rows[0]["participant"])
}

func TestEventServiceExportDeniedForOtherOrganizer(t *testing.T) {
	svc, _, _, _, _, _ := newEventFixture()

	_, _, err := svc.ExportRegistrationsCSV(context.Background(), organizerClaims("org2"), "ev1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPermissionDenied.Code, appErrors.FromError(err).Code)
}
