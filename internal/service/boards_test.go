package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taskgate.app/bot/internal/service"
	"taskgate.app/bot/internal/tracker"
)

var _ = Describe("BoardCache", func() {
	var (
		ctx     context.Context
		gateway *mockGateway
		boards  *service.BoardCache
		calls   int
	)

	BeforeEach(func() {
		ctx = context.Background()
		gateway = &mockGateway{}
		boards = service.NewBoardCache(gateway, true, nil)
		calls = 0
	})

	It("creates a board once and caches it", func() {
		gateway.createBoardFn = func(ctx context.Context, name, tag string) error {
			calls++
			return nil
		}

		boards.GetOrCreate(ctx, "42", "WEB42")
		boards.GetOrCreate(ctx, "42", "WEB42")
		Expect(calls).To(Equal(1))
	})

	It("treats a remote conflict as an existing board and stops retrying", func() {
		gateway.createBoardFn = func(ctx context.Context, name, tag string) error {
			calls++
			return &tracker.APIError{StatusCode: 409, Messages: []string{"Board already exists."}}
		}

		boards.GetOrCreate(ctx, "42", "WEB42")
		boards.GetOrCreate(ctx, "42", "WEB42")
		Expect(calls).To(Equal(1))
	})

	It("retries on the next task after a transient creation failure", func() {
		gateway.createBoardFn = func(ctx context.Context, name, tag string) error {
			calls++
			if calls == 1 {
				return errors.New("connection refused")
			}
			return nil
		}

		boards.GetOrCreate(ctx, "42", "WEB42")
		boards.GetOrCreate(ctx, "42", "WEB42")
		boards.GetOrCreate(ctx, "42", "WEB42")
		Expect(calls).To(Equal(2))
	})

	It("does nothing when disabled", func() {
		boards = service.NewBoardCache(gateway, false, nil)
		gateway.createBoardFn = func(ctx context.Context, name, tag string) error {
			calls++
			return nil
		}

		boards.GetOrCreate(ctx, "42", "WEB42")
		Expect(calls).To(BeZero())
	})
})
