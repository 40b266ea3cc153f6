package permission_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/rfcommd/btserial/mocks"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
)

var _ = Describe("Gate", func() {
	var (
		ctrl       *gomock.Controller
		authorizer *mocks.PermissionAuthorizer
		ctx        context.Context
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		authorizer = mocks.NewPermissionAuthorizer(ctrl)
		ctx = context.Background()
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("all capabilities granted", func() {
		It("grants without requesting", func() {
			authorizer.EXPECT().Granted(gomock.Any(), gomock.Any()).Return(true, nil).Times(3)
			decision, err := permission.NewGate(authorizer).CheckAndRequest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Granted).To(BeTrue())
			Expect(decision.Missing).To(BeEmpty())
		})
	})

	Context("some capabilities missing", func() {
		It("requests the missing ones and denies immediately", func() {
			authorizer.EXPECT().Granted(gomock.Any(), permission.Connect).Return(true, nil)
			authorizer.EXPECT().Granted(gomock.Any(), permission.Scan).Return(false, nil)
			authorizer.EXPECT().Granted(gomock.Any(), permission.Location).Return(false, nil)
			authorizer.EXPECT().Request(gomock.Any(), []permission.Capability{permission.Scan, permission.Location}).Return(nil)

			decision, err := permission.NewGate(authorizer).CheckAndRequest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Granted).To(BeFalse())
			Expect(decision.Missing).To(ConsistOf(permission.Scan, permission.Location))
		})

		It("still denies when the request cannot be issued", func() {
			authorizer.EXPECT().Granted(gomock.Any(), gomock.Any()).Return(false, nil).Times(3)
			authorizer.EXPECT().Request(gomock.Any(), gomock.Any()).Return(errors.New("no prompt available"))

			decision, err := permission.NewGate(authorizer).CheckAndRequest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(decision.Granted).To(BeFalse())
			Expect(decision.Missing).To(HaveLen(3))
		})
	})

	Context("Require", func() {
		It("checks only the named capabilities", func() {
			authorizer.EXPECT().Granted(gomock.Any(), permission.Scan).Return(true, nil)
			authorizer.EXPECT().Granted(gomock.Any(), permission.Location).Return(true, nil)
			Expect(permission.NewGate(authorizer).Require(ctx, permission.ScanRequired...)).To(Succeed())
		})

		It("returns permission denied after requesting", func() {
			authorizer.EXPECT().Granted(gomock.Any(), permission.Connect).Return(false, nil)
			authorizer.EXPECT().Request(gomock.Any(), []permission.Capability{permission.Connect}).Return(nil)
			err := permission.NewGate(authorizer).Require(ctx, permission.Connect)
			Expect(err).To(MatchError(protocol.ErrPermissionDenied))
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindPermissionDenied))
		})
	})

	Context("authorizer failures", func() {
		It("propagates check errors", func() {
			boom := errors.New("host crashed")
			authorizer.EXPECT().Granted(gomock.Any(), permission.Connect).Return(false, boom)
			_, err := permission.NewGate(authorizer).CheckAndRequest(ctx)
			Expect(err).To(MatchError(boom))
		})

		It("reports a missing host subsystem", func() {
			_, err := permission.NewGate(nil).CheckAndRequest(ctx)
			Expect(err).To(MatchError(protocol.ErrHostUnavailable))
		})
	})
})

var _ = Describe("Policy", func() {
	It("tracks grants and pending requests", func() {
		ctx := context.Background()
		var notified []permission.Capability
		policy := permission.NewPolicy(permission.Connect)
		policy.OnRequest = func(caps []permission.Capability) {
			notified = append(notified, caps...)
		}
		gate := permission.NewGate(policy)

		decision, err := gate.CheckAndRequest(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Granted).To(BeFalse())
		Expect(notified).To(ConsistOf(permission.Scan, permission.Location))
		Expect(policy.Pending()).To(Equal([]permission.Capability{permission.Location, permission.Scan}))

		policy.Grant(permission.Scan, permission.Location)
		Expect(policy.Pending()).To(BeEmpty())
		decision, err = gate.CheckAndRequest(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Granted).To(BeTrue())

		policy.Revoke(permission.Connect)
		Expect(gate.Require(ctx, permission.Connect)).To(MatchError(protocol.ErrPermissionDenied))
	})
})

var _ = Describe("ParseCapability", func() {
	It("accepts known names", func() {
		c, err := permission.ParseCapability(" Scan ")
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(Equal(permission.Scan))
	})

	It("rejects unknown names", func() {
		_, err := permission.ParseCapability("camera")
		Expect(err).To(HaveOccurred())
	})
})
