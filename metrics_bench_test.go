package manpower

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/guard"
)

// Every browsing context in a server shares one Instruments, so these
// benchmarks measure the counters and audit queue under many controllers.

var benchContext atomic.Uint64

func sharedBenchInstruments(b *testing.B, audit bool) *Instruments {
	b.Helper()
	cfg := DefaultConfig()
	cfg.Audit.Enabled = audit
	cfg.Audit.BufferSize = 1024
	inst := NewInstruments(cfg, &countingSink{})
	b.Cleanup(inst.Close)
	return inst
}

func benchContextController(b *testing.B, inst *Instruments) (*Controller, string) {
	store := newFakeStore()
	n := benchContext.Add(1)
	email := fmt.Sprintf("user%d@x.com", n)
	subject := fmt.Sprintf("u-%d", n)
	store.addUser(email, "pw", subject, "User")
	store.addProfile(Profile{ID: subject, FullName: "User", Role: RoleEmployee})
	store.employees[subject] = EmployeeRecord{ID: subject}

	c, err := New().WithStore(store).WithInstruments(inst).Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}
	return c, email
}

func BenchmarkParallelContextsLoginLogout(b *testing.B) {
	for _, audit := range []bool{false, true} {
		b.Run(fmt.Sprintf("audit=%v", audit), func(b *testing.B) {
			inst := sharedBenchInstruments(b, audit)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				c, email := benchContextController(b, inst)
				defer c.Teardown()
				for pb.Next() {
					if _, err := c.Login(ctx, email, "pw"); err != nil {
						b.Errorf("login failed: %v", err)
						return
					}
					if err := c.Logout(ctx); err != nil {
						b.Errorf("logout failed: %v", err)
						return
					}
				}
			})
			b.StopTimer()
			if got := inst.MetricsSnapshot().Counters[MetricLogout]; got == 0 {
				b.Fatal("no logouts counted")
			}
		})
	}
}

func BenchmarkDecideWhileNotificationsApply(b *testing.B) {
	inst := sharedBenchInstruments(b, false)
	c, _ := benchContextController(b, inst)
	defer c.Teardown()

	now := time.Now()
	sess := &Session{ID: "s-1", Subject: "u-bench", Provider: ProviderGoogle, Email: "b@x.com", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		for {
			select {
			case <-stop:
				return
			default:
			}
			c.OnSessionChanged(ctx, SessionEvent{Kind: EventSignedIn, Session: sess})
			c.OnSessionChanged(ctx, SessionEvent{Kind: EventSignedOut})
		}
	}()

	paths := [...]string{guard.PathEmployeeDashboard, guard.PathDashboard, guard.PathLogin}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = c.Decide(paths[i%len(paths)])
			i++
		}
	})
	b.StopTimer()
	close(stop)
	<-done
}

func BenchmarkWatchersThatNeverRead(b *testing.B) {
	inst := sharedBenchInstruments(b, false)
	c, _ := benchContextController(b, inst)
	defer c.Teardown()

	// Full buffers force the replace-oldest path on every broadcast.
	for i := 0; i < 16; i++ {
		_, cancel := c.Watch(1)
		b.Cleanup(cancel)
	}
	now := time.Now()
	sess := &Session{ID: "s-1", Subject: "u-bench", Provider: ProviderPassword, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.OnSessionChanged(ctx, SessionEvent{Kind: EventTokenRefreshed, Session: sess})
	}
}

func BenchmarkMetricsSnapshotUnderResolveLoad(b *testing.B) {
	inst := sharedBenchInstruments(b, false)
	m := inst.Metrics()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		d := 3 * time.Millisecond
		for {
			select {
			case <-stop:
				return
			default:
				m.Inc(MetricProfileResolved)
				m.Observe(MetricResolveLatency, d)
			}
		}
	}()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = inst.MetricsSnapshot()
	}
	b.StopTimer()
	close(stop)
	<-done
}

func BenchmarkAuditEmitFromManyContexts(b *testing.B) {
	inst := sharedBenchInstruments(b, true)
	sess := &Session{ID: "s-1", Subject: "u-1", Provider: ProviderPassword}
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			inst.emit(ctx, AuditLoginSuccess, sess, true, nil, nil)
		}
	})
	b.StopTimer()
	b.ReportMetric(float64(inst.AuditDropped())/float64(b.N), "dropped/op")
}
