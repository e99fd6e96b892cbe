package datacollector_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/pipz"

	datacollector "github.com/Nodrex/DataCollector"
	dctest "github.com/Nodrex/DataCollector/testing"
)

type user struct {
	Name string
	Age  int
}

func userShape() *datacollector.Shape[user] {
	shape := datacollector.NewShape[user]()
	datacollector.Field(shape, "name", func(u *user, v string) { u.Name = v })
	datacollector.Field(shape, "age", func(u *user, v int) { u.Age = v })
	return shape
}

const waitTimeout = 2 * time.Second

// settle gives in-flight deliveries a moment to land before asserting
// that nothing more happens.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func TestCollectNameAge(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.NewSingleUse(context.Background(), userShape(), rec.Handler())

	collector.Emit("name", "Ada")
	collector.Emit("age", 30)

	<-collector.Done()

	results := rec.Results()
	if len(results) != 1 {
		t.Fatalf("expected exactly one result, got %d (errors: %v)", len(results), rec.Errors())
	}
	if results[0].Name != "Ada" || results[0].Age != 30 {
		t.Errorf("unexpected instance: %+v", results[0])
	}
	if !collector.Cancelled() {
		t.Error("single-use collector should be cancelled after its result")
	}
}

func TestOrderIndependence(t *testing.T) {
	type triple struct {
		A string
		B int
		C bool
	}
	shape := datacollector.NewShape[triple]()
	datacollector.Field(shape, "a", func(v *triple, x string) { v.A = x })
	datacollector.Field(shape, "b", func(v *triple, x int) { v.B = x })
	datacollector.Field(shape, "c", func(v *triple, x bool) { v.C = x })

	emissions := map[string]any{"a": "x", "b": 7, "c": true}
	want := triple{A: "x", B: 7, C: true}

	orders := [][]string{
		{"a", "b", "c"}, {"a", "c", "b"},
		{"b", "a", "c"}, {"b", "c", "a"},
		{"c", "a", "b"}, {"c", "b", "a"},
	}
	for _, order := range orders {
		t.Run(fmt.Sprintf("%v", order), func(t *testing.T) {
			rec := dctest.NewRecorder[triple]()
			collector := datacollector.NewSingleUse(context.Background(), shape, rec.Handler())
			for _, field := range order {
				collector.Emit(field, emissions[field])
			}
			<-collector.Done()

			results := rec.Results()
			if len(results) != 1 {
				t.Fatalf("expected one result, got %d (errors: %v)", len(results), rec.Errors())
			}
			if results[0] != want {
				t.Errorf("order %v: expected %+v, got %+v", order, want, results[0])
			}
		})
	}
}

func TestLatestWins(t *testing.T) {
	// One worker keeps same-field deliveries in emission order; the tuple
	// cannot complete until "age" arrives, so the second name overwrites
	// the first inside its channel.
	rec := dctest.NewRecorder[user]()
	collector := datacollector.NewSingleUse(context.Background(), userShape(), rec.Handler(),
		datacollector.WithWorkers[user](1))

	collector.Emit("name", "first")
	collector.Emit("name", "second")
	collector.Emit("age", 30)

	<-collector.Done()

	results := rec.Results()
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d (errors: %v)", len(results), rec.Errors())
	}
	if results[0].Name != "second" {
		t.Errorf("expected the later value to win, got %q", results[0].Name)
	}
}

func TestCollectionLimit(t *testing.T) {
	type point struct{ X int }
	shape := datacollector.NewShape[point]()
	datacollector.Field(shape, "x", func(p *point, v int) { p.X = v })

	rec := dctest.NewRecorder[point]()
	collector := datacollector.New(context.Background(), shape, rec.Handler(),
		datacollector.WithLimit[point](2))

	collector.Emit("x", 1)
	if !rec.Wait(1, waitTimeout) {
		t.Fatal("first tuple never arrived")
	}
	collector.Emit("x", 2)

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not cancel itself at the limit")
	}

	// A third emission after the limit produces no callback.
	collector.Emit("x", 3)
	settle()

	results := rec.Results()
	if len(results) != 2 {
		t.Fatalf("expected exactly two results, got %d", len(results))
	}
	if results[0].X != 1 || results[1].X != 2 {
		t.Errorf("unexpected results: %+v", results)
	}
	if len(rec.Errors()) != 0 {
		t.Errorf("unexpected errors: %v", rec.Errors())
	}
	if !collector.Cancelled() {
		t.Error("collector should be cancelled after reaching its limit")
	}
}

func TestSingleUseMatchesLimitOne(t *testing.T) {
	run := func(create func(datacollector.Handler[user]) *datacollector.Collector[user]) (int, int, bool) {
		rec := dctest.NewRecorder[user]()
		collector := create(rec.Handler())
		collector.Emit("name", "Ada")
		collector.Emit("age", 30)
		<-collector.Done()
		collector.Emit("age", 31)
		settle()
		return len(rec.Results()), len(rec.Errors()), collector.Cancelled()
	}

	singleResults, singleErrs, singleCancelled := run(func(h datacollector.Handler[user]) *datacollector.Collector[user] {
		return datacollector.NewSingleUse(context.Background(), userShape(), h)
	})
	limitResults, limitErrs, limitCancelled := run(func(h datacollector.Handler[user]) *datacollector.Collector[user] {
		return datacollector.New(context.Background(), userShape(), h, datacollector.WithLimit[user](1))
	})

	if singleResults != limitResults || singleErrs != limitErrs || singleCancelled != limitCancelled {
		t.Errorf("single-use (%d results, %d errors, cancelled=%v) diverged from limit=1 (%d results, %d errors, cancelled=%v)",
			singleResults, singleErrs, singleCancelled, limitResults, limitErrs, limitCancelled)
	}
	if singleResults != 1 || singleErrs != 0 || !singleCancelled {
		t.Errorf("expected one result, no errors, cancelled; got %d results, %d errors, cancelled=%v",
			singleResults, singleErrs, singleCancelled)
	}
}

func TestFailFastTypeMismatch(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.New(context.Background(), userShape(), rec.Handler(),
		datacollector.WithWorkers[user](1))

	collector.Emit("name", "Ada")
	collector.Emit("age", "not-a-number")

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not cancel on type mismatch")
	}

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one failure callback, got %d", len(errs))
	}
	if !errors.Is(errs[0], datacollector.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", errs[0])
	}
	if len(rec.Results()) != 0 {
		t.Errorf("expected zero success callbacks, got %v", rec.Results())
	}
	if !collector.Cancelled() {
		t.Error("collector should be cancelled after a mismatch")
	}

	// The valid value arriving late changes nothing.
	collector.Emit("age", 30)
	settle()
	if rec.Calls() != 1 {
		t.Errorf("expected no further callbacks, got %d total", rec.Calls())
	}
}

func TestUnknownFieldCancels(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.New(context.Background(), userShape(), rec.Handler())

	collector.Emit("nickname", "ada")

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not cancel on unknown field")
	}

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected one failure callback, got %d", len(errs))
	}
	if !errors.Is(errs[0], datacollector.ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", errs[0])
	}
}

func TestLenientTypesDeferToAssembly(t *testing.T) {
	type point struct{ X int }
	shape := datacollector.NewShape[point]()
	datacollector.Field(shape, "x", func(p *point, v int) { p.X = v })

	rec := dctest.NewRecorder[point]()
	collector := datacollector.New(context.Background(), shape, rec.Handler(),
		datacollector.WithLenientTypes[point]())

	collector.Emit("x", "not-a-number")

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not cancel on construction failure")
	}

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected one failure callback, got %d", len(errs))
	}
	if !errors.Is(errs[0], datacollector.ErrConstruction) {
		t.Errorf("expected ErrConstruction, got %v", errs[0])
	}
	if !errors.Is(errs[0], datacollector.ErrTypeMismatch) {
		t.Errorf("expected wrapped ErrTypeMismatch, got %v", errs[0])
	}
}

func TestIdempotentCancel(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.New(context.Background(), userShape(), rec.Handler())

	collector.Cancel()
	collector.Cancel()

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not tear down")
	}
	collector.Cancel()

	if rec.Calls() != 0 {
		t.Errorf("expected no callbacks after explicit cancel, got %d", rec.Calls())
	}
	if !collector.Cancelled() {
		t.Error("collector should report cancelled")
	}
}

func TestEmptyShape(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.New(context.Background(), datacollector.NewShape[user](), rec.Handler())

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not self-cancel on empty shape")
	}

	errs := rec.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected one failure callback, got %d", len(errs))
	}
	if !errors.Is(errs[0], datacollector.ErrNoFields) {
		t.Errorf("expected ErrNoFields, got %v", errs[0])
	}
	if !collector.Cancelled() {
		t.Error("collector should be cancelled")
	}

	// Emissions against the dead collector are dropped.
	collector.Emit("name", "Ada")
	settle()
	if rec.Calls() != 1 {
		t.Errorf("expected no further callbacks, got %d total", rec.Calls())
	}
}

func TestParentContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := dctest.NewRecorder[user]()
	collector := datacollector.New(ctx, userShape(), rec.Handler())

	collector.Emit("name", "Ada")
	cancel()

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not stop with its parent context")
	}
}

func TestContinuousCollection(t *testing.T) {
	type point struct{ X int }
	shape := datacollector.NewShape[point]()
	datacollector.Field(shape, "x", func(p *point, v int) { p.X = v })

	rec := dctest.NewRecorder[point]()
	collector := datacollector.New(context.Background(), shape, rec.Handler())

	for i := 1; i <= 5; i++ {
		collector.Emit("x", i)
		if !rec.Wait(i, waitTimeout) {
			t.Fatalf("tuple %d never arrived", i)
		}
	}

	if got := len(rec.Results()); got != 5 {
		t.Errorf("expected 5 results, got %d", got)
	}
	if collector.Cancelled() {
		t.Error("unbounded collector must not cancel itself on count")
	}

	collector.Cancel()
	<-collector.Done()
}

func TestConcurrentEmitters(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	collector := datacollector.NewSingleUse(context.Background(), userShape(), rec.Handler())

	dctest.ParallelTest(t, 20, func(id int) {
		if id%2 == 0 {
			collector.Emit("name", "Ada")
		} else {
			collector.Emit("age", 30)
		}
	})

	<-collector.Done()

	results := rec.Results()
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d (errors: %v)", len(results), rec.Errors())
	}
	if results[0].Name != "Ada" || results[0].Age != 30 {
		t.Errorf("unexpected instance: %+v", results[0])
	}
}

func TestPipelineTransformsResult(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	uppercase := pipz.Transform(pipz.Name("uppercase"), func(_ context.Context, u user) user {
		u.Name = "SIR " + u.Name
		return u
	})
	collector := datacollector.NewSingleUse(context.Background(), userShape(), rec.Handler(),
		datacollector.WithPipeline[user](uppercase))

	collector.Emit("name", "Ada")
	collector.Emit("age", 30)
	<-collector.Done()

	results := rec.Results()
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d (errors: %v)", len(results), rec.Errors())
	}
	if results[0].Name != "SIR Ada" {
		t.Errorf("expected pipeline-transformed name, got %q", results[0].Name)
	}
}

func TestPipelineErrorCancels(t *testing.T) {
	rec := dctest.NewRecorder[user]()
	reject := pipz.Apply(pipz.Name("reject"), func(_ context.Context, u user) (user, error) {
		return u, errors.New("rejected downstream")
	})
	collector := datacollector.New(context.Background(), userShape(), rec.Handler(),
		datacollector.WithPipeline[user](reject))

	collector.Emit("name", "Ada")
	collector.Emit("age", 30)

	select {
	case <-collector.Done():
	case <-time.After(waitTimeout):
		t.Fatal("collector did not cancel on pipeline error")
	}

	if len(rec.Errors()) != 1 {
		t.Fatalf("expected one failure callback, got %d", len(rec.Errors()))
	}
	if len(rec.Results()) != 0 {
		t.Errorf("expected no success callbacks, got %v", rec.Results())
	}
}

func TestDescribe(t *testing.T) {
	collector := datacollector.New(context.Background(), userShape(), func(user, error) {},
		datacollector.WithLimit[user](3))
	defer collector.Cancel()

	spec := collector.Describe()
	if spec.Limit != 3 {
		t.Errorf("expected limit 3, got %d", spec.Limit)
	}
	if len(spec.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(spec.Fields))
	}
	if spec.Fields[0].Name != "age" || spec.Fields[1].Name != "name" {
		t.Errorf("expected fields sorted by name, got %+v", spec.Fields)
	}

	out, err := collector.DescribeJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Error("expected non-empty JSON description")
	}
}

func BenchmarkCollect(b *testing.B) {
	type point struct{ X int }
	shape := datacollector.NewShape[point]()
	datacollector.Field(shape, "x", func(p *point, v int) { p.X = v })

	assembled := make(chan struct{}, 1)
	collector := datacollector.New(context.Background(), shape, func(point, error) {
		assembled <- struct{}{}
	})
	defer collector.Cancel()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		collector.Emit("x", i)
		<-assembled
	}
}
