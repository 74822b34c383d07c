package pledge_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/jeffsasaki/pledge-storefront/model"
	"github.com/jeffsasaki/pledge-storefront/pledge"
	"github.com/jeffsasaki/pledge-storefront/store"
)

type published struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{key: key, body: body})
	return p.err
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.sent))
	for i, s := range p.sent {
		keys[i] = s.key
	}
	return keys
}

type failingStore struct {
	creates int
}

func (s *failingStore) Create(context.Context, model.Order) (model.Order, error) {
	s.creates++
	return model.Order{}, errors.New("disk on fire")
}

func (s *failingStore) UpdateStatus(context.Context, string, model.OrderStatus) error {
	return errors.New("disk on fire")
}

func campaign() *model.Campaign {
	return &model.Campaign{
		ID:         "proj_bookclub_2026",
		Title:      "Talk Concert 2026",
		GoalAmount: 1000000,
		Rewards: []model.Reward{
			{ID: "reward_A", Price: 60000, Title: "60,000원+", Remaining: 80, Items: []string{"ticket", "notebook"}},
			{ID: "reward_B", Price: 110000, Title: "110,000원+", Remaining: 80, Items: []string{"ticket", "notebook", "after-party"}},
			{ID: "reward_C", Price: 50000, Title: "50,000원+", Remaining: 40, Items: []string{"after-party", "notebook"}},
		},
	}
}

func validContact() model.ContactInfo {
	return model.ContactInfo{
		UserName:      "Hong",
		UserPhone:     "01012345678",
		ContactName:   "Hong",
		ContactPhone:  "01012345678",
		DepositorName: "Hong",
	}
}

var allConsent = model.Consent{DataSharing: true, Terms: true}

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		adapter   *store.Adapter
		publisher *fakePublisher
		engine    *pledge.Engine
		c         *model.Campaign
		user      *model.UserProfile
		now       time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		adapter = store.NewAdapter(nil)
		publisher = &fakePublisher{}
		now = time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
		engine = pledge.NewEngine(adapter, pledge.Policy{RequireConsent: true},
			pledge.WithPublisher(publisher),
			pledge.WithClock(func() time.Time { return now }))
		c = campaign()
		user = &model.UserProfile{ID: "u1", Email: "a@x.com", DisplayName: "Hong"}
	})

	Describe("SubmitPledge", func() {
		It("creates a pending order priced at the chosen reward", func() {
			for _, reward := range c.Rewards {
				order, err := engine.SubmitPledge(ctx, user, c, reward, validContact(), allConsent)
				Expect(err).NotTo(HaveOccurred())
				Expect(order.ID).NotTo(BeEmpty())
				Expect(order.TotalAmount).To(Equal(reward.Price))
				Expect(order.Status).To(Equal(model.StatusPendingPayment))
				Expect(order.Quantity).To(Equal(1))
				Expect(order.CreatedAt).To(Equal(now))
				Expect(order.RewardTitle).To(Equal(reward.Title))
				Expect(order.RewardItems).To(Equal(reward.Items))
			}
		})

		It("defaults a blank address to on-site pickup", func() {
			contact := validContact()
			contact.Address = "   "
			order, err := engine.SubmitPledge(ctx, user, c, c.Rewards[0], contact, allConsent)
			Expect(err).NotTo(HaveOccurred())
			Expect(order.Address).To(Equal(model.PickupAddress))
		})

		It("prices the order from the campaign, not the caller's reward copy", func() {
			stale := c.Rewards[1]
			stale.Price = 1
			order, err := engine.SubmitPledge(ctx, user, c, stale, validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())
			Expect(order.TotalAmount).To(Equal(int64(110000)))
		})

		It("does not decrement the reward's remaining count", func() {
			_, err := engine.SubmitPledge(ctx, user, c, c.Rewards[2], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Rewards[2].Remaining).To(Equal(40))
		})

		It("keeps the order's reward snapshot when the campaign changes later", func() {
			order, err := engine.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())

			c.Rewards[0].Title = "renamed"
			c.Rewards[0].Items[0] = "changed"

			orders, err := adapter.QueryOnce(ctx, store.ByEmail("a@x.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(orders).To(HaveLen(1))
			Expect(orders[0].ID).To(Equal(order.ID))
			Expect(orders[0].RewardTitle).To(Equal("60,000원+"))
			Expect(orders[0].RewardItems).To(Equal([]string{"ticket", "notebook"}))
		})

		It("copies supporter details into the recipient fields on request", func() {
			contact := model.ContactInfo{
				UserName:      "Lee",
				UserPhone:     "01099998888",
				DepositorName: "Lee",
				SameAsUser:    true,
			}
			order, err := engine.SubmitPledge(ctx, user, c, c.Rewards[0], contact, allConsent)
			Expect(err).NotTo(HaveOccurred())
			Expect(order.ContactName).To(Equal("Lee"))
			Expect(order.ContactPhone).To(Equal("01099998888"))
		})

		It("publishes an order.created event", func() {
			order, err := engine.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.keys()).To(Equal([]string{model.EventOrderCreated}))

			var event model.OrderCreated
			Expect(json.Unmarshal(publisher.sent[0].body, &event)).To(Succeed())
			Expect(event.Order.ID).To(Equal(order.ID))
		})

		It("succeeds when the bus is down", func() {
			publisher.err = errors.New("connection closed")
			_, err := engine.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())
		})

		DescribeTable("rejects incomplete submissions without persisting",
			func(mutate func(*model.UserProfile, *model.Reward, *model.ContactInfo, *model.Consent) *model.UserProfile, field string) {
				u := *user
				reward := c.Rewards[0]
				contact := validContact()
				consent := allConsent
				submitter := mutate(&u, &reward, &contact, &consent)

				_, err := engine.SubmitPledge(ctx, submitter, c, reward, contact, consent)

				var verr *pledge.ValidationError
				Expect(errors.As(err, &verr)).To(BeTrue())
				Expect(verr.Field).To(Equal(field))

				orders, qerr := adapter.QueryOnce(ctx, store.AllOrders())
				Expect(qerr).NotTo(HaveOccurred())
				Expect(orders).To(BeEmpty())
				Expect(publisher.keys()).To(BeEmpty())
			},
			Entry("no supporter name and no display name", func(u *model.UserProfile, _ *model.Reward, ci *model.ContactInfo, _ *model.Consent) *model.UserProfile {
				u.DisplayName = ""
				ci.UserName = " "
				return u
			}, "user_name"),
			Entry("missing contact name", func(u *model.UserProfile, _ *model.Reward, ci *model.ContactInfo, _ *model.Consent) *model.UserProfile {
				ci.ContactName = ""
				return u
			}, "contact_name"),
			Entry("blank contact phone", func(u *model.UserProfile, _ *model.Reward, ci *model.ContactInfo, _ *model.Consent) *model.UserProfile {
				ci.ContactPhone = "  "
				return u
			}, "contact_phone"),
			Entry("missing depositor name", func(u *model.UserProfile, _ *model.Reward, ci *model.ContactInfo, _ *model.Consent) *model.UserProfile {
				ci.DepositorName = ""
				return u
			}, "depositor_name"),
			Entry("no data-sharing consent", func(u *model.UserProfile, _ *model.Reward, _ *model.ContactInfo, cs *model.Consent) *model.UserProfile {
				cs.DataSharing = false
				return u
			}, "consent.data_sharing"),
			Entry("no terms acknowledgement", func(u *model.UserProfile, _ *model.Reward, _ *model.ContactInfo, cs *model.Consent) *model.UserProfile {
				cs.Terms = false
				return u
			}, "consent.terms"),
			Entry("signed out", func(*model.UserProfile, *model.Reward, *model.ContactInfo, *model.Consent) *model.UserProfile {
				return nil
			}, "user"),
			Entry("reward from another campaign", func(u *model.UserProfile, r *model.Reward, _ *model.ContactInfo, _ *model.Consent) *model.UserProfile {
				r.ID = "reward_Z"
				return u
			}, "reward"),
		)

		It("accepts missing consent when the policy does not require it", func() {
			lenient := pledge.NewEngine(adapter, pledge.Policy{})
			_, err := lenient.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), model.Consent{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports a PersistenceError when the store cannot create", func() {
			failing := &failingStore{}
			e := pledge.NewEngine(failing, pledge.Policy{RequireConsent: true}, pledge.WithPublisher(publisher))
			_, err := e.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), allConsent)

			var perr *pledge.PersistenceError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(failing.creates).To(Equal(1))
			Expect(publisher.keys()).To(BeEmpty())
		})
	})

	Describe("ChangeStatus", func() {
		var order model.Order

		BeforeEach(func() {
			var err error
			order, err = engine.SubmitPledge(ctx, user, c, c.Rewards[0], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts moves in any direction", func() {
			Expect(engine.ChangeStatus(ctx, order.ID, model.StatusDelivered)).To(Succeed())
			Expect(engine.ChangeStatus(ctx, order.ID, model.StatusPendingPayment)).To(Succeed())

			orders, err := adapter.QueryOnce(ctx, store.AllOrders())
			Expect(err).NotTo(HaveOccurred())
			Expect(orders[0].Status).To(Equal(model.StatusPendingPayment))
			Expect(publisher.keys()).To(Equal([]string{
				model.EventOrderCreated,
				model.EventOrderStatusChanged,
				model.EventOrderStatusChanged,
			}))
		})

		It("rejects statuses outside the enumeration", func() {
			err := engine.ChangeStatus(ctx, order.ID, model.OrderStatus("refunded"))
			var uerr *pledge.UpdateError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(err).To(MatchError(store.ErrUnknownStatus))
		})

		It("surfaces a missing order as an UpdateError", func() {
			err := engine.ChangeStatus(ctx, "order_missing", model.StatusPaid)
			var uerr *pledge.UpdateError
			Expect(errors.As(err, &uerr)).To(BeTrue())
			Expect(uerr.OrderID).To(Equal("order_missing"))
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("surfaces store failures", func() {
			e := pledge.NewEngine(&failingStore{}, pledge.Policy{})
			err := e.ChangeStatus(ctx, order.ID, model.StatusPaid)
			var uerr *pledge.UpdateError
			Expect(errors.As(err, &uerr)).To(BeTrue())
		})
	})

	Describe("order visibility", func() {
		It("shows every order to the admin and only their own to each supporter", func() {
			supporter := &model.UserProfile{ID: "ua", Email: "a@x.com", DisplayName: "A"}
			_, err := engine.SubmitPledge(ctx, supporter, c, c.Rewards[2], validContact(), allConsent)
			Expect(err).NotTo(HaveOccurred())

			all, err := adapter.QueryOnce(ctx, store.AllOrders())
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].UserEmail).To(Equal("a@x.com"))
			Expect(all[0].TotalAmount).To(Equal(int64(50000)))

			mine, err := adapter.QueryOnce(ctx, store.ByEmail("a@x.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
			Expect(mine[0].ID).To(Equal(all[0].ID))

			theirs, err := adapter.QueryOnce(ctx, store.ByEmail("b@x.com"))
			Expect(err).NotTo(HaveOccurred())
			Expect(theirs).To(BeEmpty())
		})
	})
})
