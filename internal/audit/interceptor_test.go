package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fintrack/internal/uow"
	"fintrack/pkg/requestcontext"
)

type fakeAppender struct {
	entries []Entry
	err     error
}

func (f *fakeAppender) Append(_ context.Context, entry Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type InterceptorSuite struct {
	suite.Suite
	appender *fakeAppender
	hook     uow.CommitHook
	ctx      context.Context
	now      time.Time
}

func TestInterceptorSuite(t *testing.T) {
	suite.Run(t, new(InterceptorSuite))
}

func (s *InterceptorSuite) SetupTest() {
	s.appender = &fakeAppender{}
	s.hook = NewInterceptor(s.appender).Hook()
	s.now = time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithActor(context.Background(), requestcontext.Actor{
		UserID:        "u-1",
		UserName:      "Alice",
		IPAddress:     "10.0.0.1",
		UserAgent:     "curl/8.0",
		RequestURL:    "/api/persons",
		RequestMethod: "POST",
	})
	s.ctx = requestcontext.WithTime(ctx, s.now)
}

func change(table string, action uow.Action, muts ...*uow.Mutation) *uow.Change {
	return &uow.Change{Table: table, Action: action, Mutations: muts}
}

// TestDerivesEntryPerMutation verifies one entry is derived per pending
// mutation, carrying actor, request metadata, and the field-level diff.
func (s *InterceptorSuite) TestDerivesEntryPerMutation() {
	mut := &uow.Mutation{
		PrimaryKey:      "pk-1",
		OldValues:       map[string]any{"name": "Groceries"},
		NewValues:       map[string]any{"name": "Groceries & Household"},
		AffectedColumns: []string{"name"},
	}

	err := s.hook(s.ctx, []*uow.Change{change("categories", uow.ActionUpdate, mut)})
	s.Require().NoError(err)
	s.Require().Len(s.appender.entries, 1)

	entry := s.appender.entries[0]
	s.Equal("categories", entry.EntityName)
	s.Equal(ActionUpdate, entry.ActionType)
	s.Equal("pk-1", entry.PrimaryKey)
	s.Require().NotNil(entry.ActorUserID)
	s.Equal("u-1", *entry.ActorUserID)
	s.Require().NotNil(entry.ActorUserName)
	s.Equal("Alice", *entry.ActorUserName)
	s.True(entry.ActionDate.Equal(s.now))
	s.Equal([]string{"name"}, entry.AffectedColumns)
	s.JSONEq(`{"name":"Groceries"}`, string(entry.OldValues))
	s.JSONEq(`{"name":"Groceries & Household"}`, string(entry.NewValues))
	s.Require().NotNil(entry.RequestURL)
	s.Equal("/api/persons", *entry.RequestURL)
}

// TestActionMapping verifies every change action maps onto its audit action.
func (s *InterceptorSuite) TestActionMapping() {
	cases := []struct {
		action uow.Action
		want   ActionType
	}{
		{uow.ActionInsert, ActionCreate},
		{uow.ActionUpdate, ActionUpdate},
		{uow.ActionSoftDelete, ActionSoftDelete},
		{uow.ActionDelete, ActionDelete},
	}
	for _, tc := range cases {
		s.appender.entries = nil
		err := s.hook(s.ctx, []*uow.Change{
			change("persons", tc.action, &uow.Mutation{PrimaryKey: "pk"}),
		})
		s.Require().NoError(err)
		s.Require().Len(s.appender.entries, 1)
		s.Equal(tc.want, s.appender.entries[0].ActionType)
	}
}

func (s *InterceptorSuite) TestUnknownActionFailsCommit() {
	err := s.hook(s.ctx, []*uow.Change{
		change("persons", uow.Action("truncate"), &uow.Mutation{PrimaryKey: "pk"}),
	})
	s.Require().Error(err)
	s.Empty(s.appender.entries)
}

func (s *InterceptorSuite) TestAnonymousContextLeavesActorNull() {
	err := s.hook(context.Background(), []*uow.Change{
		change("persons", uow.ActionInsert, &uow.Mutation{PrimaryKey: "pk"}),
	})
	s.Require().NoError(err)
	s.Require().Len(s.appender.entries, 1)

	entry := s.appender.entries[0]
	s.Nil(entry.ActorUserID)
	s.Nil(entry.ActorUserName)
	s.Nil(entry.IPAddress)
	s.Nil(entry.UserAgent)
	s.Nil(entry.OldValues)
	s.Nil(entry.NewValues)
}

// TestSerializationFailurePropagates verifies an unserializable value fails
// the hook, which in turn fails the commit.
func (s *InterceptorSuite) TestSerializationFailurePropagates() {
	mut := &uow.Mutation{
		PrimaryKey: "pk",
		NewValues:  map[string]any{"rate": func() {}},
	}
	err := s.hook(s.ctx, []*uow.Change{change("currencies", uow.ActionInsert, mut)})
	s.Require().Error(err)
	s.Empty(s.appender.entries)
}

func (s *InterceptorSuite) TestAppendFailurePropagates() {
	s.appender.err = errors.New("audit store down")
	err := s.hook(s.ctx, []*uow.Change{
		change("persons", uow.ActionInsert, &uow.Mutation{PrimaryKey: "pk"}),
	})
	s.Require().ErrorContains(err, "audit store down")
}
