package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"opsassist/internal/classifier"
	"opsassist/internal/domain"
)

// failingClassifier always fails, counting its calls.
type failingClassifier struct {
	calls atomic.Int32
}

func (f *failingClassifier) Name() string { return "failing" }

func (f *failingClassifier) Classify(ctx context.Context, _ *classifier.Context) (*domain.Classification, error) {
	f.calls.Add(1)
	<-ctx.Done()
	return nil, fmt.Errorf("%w: classifier timed out: %w", domain.ErrUnavailable, ctx.Err())
}

var _ = Describe("HTTP Integration Tests", func() {
	var s *stack

	BeforeEach(func() {
		s = newStack(classifier.NewHeuristic())
	})

	AfterEach(func() {
		s.stop()
	})

	Describe("Health Check", func() {
		It("should return healthy status", func() {
			resp := s.do(http.MethodGet, "/healthz", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			Expect(resp.Success).To(BeTrue())
		})
	})

	Describe("Incident detection", Ordered, func() {
		var (
			shared     *stack
			incidentID string
			opened     incidentView
		)

		BeforeAll(func() {
			shared = newStack(classifier.NewHeuristic())
			DeferCleanup(shared.stop)
		})

		It("should not open incidents for INFO events", func() {
			for i := 0; i < 3; i++ {
				result := shared.sendEvent("payment-service", "INFO", "Request served")
				Expect(result.Outcome.Kind).To(Equal("no_action"))
				Expect(result.Event.IncidentID).To(BeNil())
			}
			Expect(shared.listIncidents("")).To(BeEmpty())
		})

		It("should not open incidents below the threshold", func() {
			for i := 0; i < 3; i++ {
				result := shared.sendEvent("payment-service", "ERROR", "Database connection timeout")
				Expect(result.Outcome.Kind).To(Equal("no_action"))
			}
			Expect(shared.listIncidents("")).To(BeEmpty())
		})

		It("should open exactly one incident with the five ERROR events", func() {
			first := shared.sendEvent("payment-service", "ERROR", "Database connection timeout")
			Expect(first.Outcome.Kind).To(Equal("no_action"))

			fifth := shared.sendEvent("payment-service", "ERROR", "Database connection timeout")
			Expect(fifth.Outcome.Kind).To(Equal("new_incident_opened"))
			Expect(fifth.Outcome.MemberEventIDs).To(HaveLen(5))
			Expect(fifth.Event.IncidentID).NotTo(BeNil())
			incidentID = fifth.Outcome.IncidentID

			incidents := shared.listIncidents("")
			Expect(incidents).To(HaveLen(1))

			opened = shared.getIncident(incidentID)
			Expect(opened.Service).To(Equal("payment-service"))
			Expect(opened.Status).To(Equal("open"))
			Expect(opened.EventCount).To(Equal(5))
			Expect(opened.Events).To(HaveLen(5))
			for _, e := range opened.Events {
				Expect(e.Level).To(Equal("ERROR"))
				Expect(*e.IncidentID).To(Equal(incidentID))
			}
		})

		It("should attach the next ERROR event to the open incident", func() {
			time.Sleep(5 * time.Millisecond)

			result := shared.sendEvent("payment-service", "ERROR", "Database connection timeout")
			Expect(result.Outcome.Kind).To(Equal("attached_to_existing"))
			Expect(result.Outcome.IncidentID).To(Equal(incidentID))

			attached := shared.getIncident(incidentID)
			Expect(attached.Status).To(Equal("open"))
			Expect(attached.EventCount).To(Equal(6))
			Expect(attached.UpdatedAt).To(BeTemporally(">", opened.UpdatedAt))
		})

		It("should open an independent incident for another service", func() {
			var last ingestResult
			for i := 0; i < 5; i++ {
				last = shared.sendEvent("auth-api", "ERROR", "401 Unauthorized")
			}
			Expect(last.Outcome.Kind).To(Equal("new_incident_opened"))
			Expect(last.Outcome.IncidentID).NotTo(Equal(incidentID))

			Expect(shared.listIncidents("")).To(HaveLen(2))
			Expect(shared.listIncidents("?service=auth-api")).To(HaveLen(1))
			Expect(shared.getIncident(incidentID).EventCount).To(Equal(6))
		})

		It("should classify opened incidents in the background", func() {
			Eventually(func() string {
				return shared.getIncident(incidentID).Category
			}, 2*time.Second, 20*time.Millisecond).Should(Equal("database_issue"))

			classified := shared.getIncident(incidentID)
			Expect(classified.Severity).To(Equal("P1"))
			Expect(classified.Summary).To(ContainSubstring("payment-service"))
			Expect(classified.RecommendedActions).NotTo(BeEmpty())
		})

		It("should list incidents newest first and filter by status", func() {
			incidents := shared.listIncidents("")
			Expect(incidents).To(HaveLen(2))
			Expect(incidents[0].Service).To(Equal("auth-api"))
			Expect(incidents[1].Service).To(Equal("payment-service"))

			Expect(shared.listIncidents("?status=open")).To(HaveLen(2))
			Expect(shared.listIncidents("?status_filter=resolved")).To(BeEmpty())
			Expect(shared.listIncidents("?limit=1&offset=1")).To(HaveLen(1))
		})
	})

	Describe("Status transitions", func() {
		var incidentID string

		BeforeEach(func() {
			var last ingestResult
			for i := 0; i < 5; i++ {
				last = s.sendEvent("checkout", "ERROR", "disk quota exceeded")
			}
			Expect(last.Outcome.Kind).To(Equal("new_incident_opened"))
			incidentID = last.Outcome.IncidentID
		})

		It("should move an incident through its lifecycle", func() {
			resp := s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status", map[string]string{"status": "investigating"})
			Expect(resp.Status).To(Equal(http.StatusOK))

			resp = s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status?new_status=resolved", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))

			var resolved incidentView
			resp.decode(&resolved)
			Expect(resolved.Status).To(Equal("resolved"))
			Expect(resolved.ResolvedAt).NotTo(BeNil())

			Expect(s.listIncidents("?status=resolved")).To(HaveLen(1))
		})

		It("should open a fresh incident once the previous one is resolved", func() {
			resp := s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status", map[string]string{"status": "resolved"})
			Expect(resp.Status).To(Equal(http.StatusOK))

			result := s.sendEvent("checkout", "ERROR", "disk quota exceeded")
			Expect(result.Outcome.Kind).To(Equal("no_action"))

			var last ingestResult
			for i := 0; i < 4; i++ {
				last = s.sendEvent("checkout", "ERROR", "disk quota exceeded")
			}
			Expect(last.Outcome.Kind).To(Equal("new_incident_opened"))
			Expect(last.Outcome.IncidentID).NotTo(Equal(incidentID))

			By("refusing to reopen the old incident while the new one is open")
			resp = s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status", map[string]string{"status": "open"})
			Expect(resp.Status).To(Equal(http.StatusConflict))
			Expect(resp.Error.Code).To(Equal("CONFLICT"))
		})

		It("should reject unknown statuses and incidents", func() {
			resp := s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status", map[string]string{"status": "archived"})
			Expect(resp.Status).To(Equal(http.StatusBadRequest))
			Expect(resp.Error.Code).To(Equal("VALIDATION_FAILED"))

			resp = s.do(http.MethodPatch, "/v1/incidents/"+incidentID+"/status", map[string]string{})
			Expect(resp.Status).To(Equal(http.StatusBadRequest))

			resp = s.do(http.MethodPatch, "/v1/incidents/does-not-exist/status", map[string]string{"status": "resolved"})
			Expect(resp.Status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Validation and lookups", func() {
		DescribeTable("should reject malformed events",
			func(body map[string]string) {
				resp := s.do(http.MethodPost, "/v1/events", body)
				Expect(resp.Status).To(Equal(http.StatusBadRequest))
				Expect(resp.Success).To(BeFalse())
			},
			Entry("missing service", map[string]string{"level": "ERROR", "message": "boom"}),
			Entry("missing message", map[string]string{"service": "svc", "level": "ERROR"}),
			Entry("unknown level", map[string]string{"service": "svc", "level": "FATAL", "message": "boom"}),
		)

		It("should accept lower-case levels", func() {
			result := s.sendEvent("svc", "warn", "disk at 80%")
			Expect(result.Event.Level).To(Equal("WARN"))
		})

		It("should look up events by id and filter the event list", func() {
			result := s.sendEvent("svc", "INFO", "hello")

			resp := s.do(http.MethodGet, "/v1/events/"+result.Event.ID, nil)
			Expect(resp.Status).To(Equal(http.StatusOK))

			resp = s.do(http.MethodGet, "/v1/events/does-not-exist", nil)
			Expect(resp.Status).To(Equal(http.StatusNotFound))

			s.sendEvent("other", "ERROR", "boom")

			resp = s.do(http.MethodGet, "/v1/events?service=svc", nil)
			Expect(resp.Status).To(Equal(http.StatusOK))
			var events []map[string]interface{}
			resp.decode(&events)
			Expect(events).To(HaveLen(1))

			resp = s.do(http.MethodGet, "/v1/events?level=bogus", nil)
			Expect(resp.Status).To(Equal(http.StatusBadRequest))
		})

		It("should return 404 for unknown incidents", func() {
			resp := s.do(http.MethodGet, "/v1/incidents/does-not-exist", nil)
			Expect(resp.Status).To(Equal(http.StatusNotFound))
			Expect(resp.Error.Code).To(Equal("NOT_FOUND"))
		})
	})

	Describe("Concurrent producers", func() {
		It("should open exactly one incident for a burst on one service", func() {
			const producers = 30

			var wg sync.WaitGroup
			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					s.sendEvent("burst-svc", "ERROR", "connection reset by peer")
				}()
			}
			wg.Wait()

			incidents := s.listIncidents("?service=burst-svc")
			Expect(incidents).To(HaveLen(1))
			Expect(incidents[0].EventCount).To(Equal(producers))
		})
	})

	Describe("Classifier failure", func() {
		It("should keep the incident usable and unclassified", func() {
			failing := &failingClassifier{}
			broken := newStack(failing)
			DeferCleanup(broken.stop)

			var last ingestResult
			for i := 0; i < 5; i++ {
				last = broken.sendEvent("search", "ERROR", "Database connection timeout")
			}
			Expect(last.Outcome.Kind).To(Equal("new_incident_opened"))

			Eventually(failing.calls.Load, 2*time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))
			// Give the worker time to finish the timed-out call.
			time.Sleep(300 * time.Millisecond)

			view := broken.getIncident(last.Outcome.IncidentID)
			Expect(view.Status).To(Equal("open"))
			Expect(view.EventCount).To(Equal(5))
			Expect(view.Category).To(BeEmpty())
			Expect(view.Severity).To(BeEmpty())
			Expect(view.Summary).To(BeEmpty())
		})
	})
})
