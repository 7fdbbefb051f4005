package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestFIFO(t *testing.T) {
	Convey("ids come out in push order", t, func() {
		q := New()
		for i := 0; i < 5; i++ {
			So(q.Push(fmt.Sprintf("t%d", i)), ShouldBeNil)
		}
		So(q.Len(), ShouldEqual, 5)
		for i := 0; i < 5; i++ {
			id, err := q.Pop(context.Background())
			So(err, ShouldBeNil)
			So(id, ShouldEqual, fmt.Sprintf("t%d", i))
		}
		So(q.Len(), ShouldEqual, 0)
	})

	Convey("pop blocks until a push arrives", t, func() {
		q := New()
		got := make(chan string, 1)
		go func() {
			id, _ := q.Pop(context.Background())
			got <- id
		}()
		time.Sleep(20 * time.Millisecond)
		So(q.Push("late"), ShouldBeNil)
		select {
		case id := <-got:
			So(id, ShouldEqual, "late")
		case <-time.After(time.Second):
			So("pop never returned", ShouldBeEmpty)
		}
	})

	Convey("pop honours context cancellation", t, func() {
		q := New()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := q.Pop(ctx)
		So(err, ShouldEqual, context.DeadlineExceeded)
	})

	Convey("close rejects pushes but lets consumers drain", t, func() {
		q := New()
		So(q.Push("a"), ShouldBeNil)
		q.Close()
		So(q.Push("b"), ShouldEqual, ErrClosed)

		id, err := q.Pop(context.Background())
		So(err, ShouldBeNil)
		So(id, ShouldEqual, "a")

		_, err = q.Pop(context.Background())
		So(err, ShouldEqual, ErrClosed)
	})

	Convey("each id is delivered to exactly one of many consumers", t, func() {
		q := New()
		const n = 200
		var (
			mu   sync.Mutex
			seen = map[string]int{}
			wg   sync.WaitGroup
		)
		ctx, cancel := context.WithCancel(context.Background())
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					id, err := q.Pop(ctx)
					if err != nil {
						return
					}
					mu.Lock()
					seen[id]++
					mu.Unlock()
				}
			}()
		}
		for i := 0; i < n; i++ {
			So(q.Push(fmt.Sprintf("t%d", i)), ShouldBeNil)
		}
		deadline := time.Now().Add(2 * time.Second)
		for q.Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
		wg.Wait()

		So(len(seen), ShouldEqual, n)
		for _, c := range seen {
			So(c, ShouldEqual, 1)
		}
	})
}
