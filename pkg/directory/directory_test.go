package directory_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/rfcommd/btserial/internal/executor"
	"github.com/rfcommd/btserial/mocks"
	"github.com/rfcommd/btserial/pkg/connector"
	"github.com/rfcommd/btserial/pkg/connector/sim"
	"github.com/rfcommd/btserial/pkg/directory"
	"github.com/rfcommd/btserial/pkg/permission"
	"github.com/rfcommd/btserial/pkg/protocol"
)

func drain(s *directory.Session) []protocol.Device {
	var events []protocol.Device
	for d := range s.Events() {
		events = append(events, d)
	}
	return events
}

var _ = Describe("Directory", func() {
	var (
		ctx     context.Context
		pool    *executor.Pool
		adapter *sim.Adapter
		policy  *permission.Policy
		dir     *directory.Directory
	)

	BeforeEach(func() {
		ctx = context.Background()
		pool = executor.New(2)
		adapter = sim.New(
			sim.Peer{Name: "HC-06", Address: "00:11:22:33:44:55", Paired: true},
			sim.Peer{Name: "Thermometer", Address: "AA:BB:CC:DD:EE:01", Discoverable: true},
			sim.Peer{Address: "aa:bb:cc:dd:ee:02", Discoverable: true},
		)
		adapter.InquiryDuration = 20 * time.Millisecond
		policy = permission.NewPolicy(permission.Required...)
		dir = directory.New(adapter, permission.NewGate(policy), pool)
		DeferCleanup(pool.Close)
	})

	Context("ListPaired", func() {
		It("returns the bonded devices", func() {
			devices, err := dir.ListPaired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(Equal([]protocol.Device{{Name: "HC-06", Address: "00:11:22:33:44:55"}}))
		})

		It("returns an empty list when nothing is paired", func() {
			devices, err := directory.New(sim.New(), nil, pool).ListPaired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).NotTo(BeNil())
			Expect(devices).To(BeEmpty())
		})

		It("fails without an adapter", func() {
			_, err := directory.New(nil, nil, pool).ListPaired(ctx)
			Expect(err).To(MatchError(protocol.ErrAdapterUnavailable))
		})

		It("fails when the radio is off", func() {
			adapter.SetPowered(false)
			_, err := dir.ListPaired(ctx)
			Expect(err).To(MatchError(protocol.ErrAdapterUnavailable))
		})
	})

	Context("Scan", func() {
		It("emits each device once and returns the snapshot", func() {
			adapter.RepeatReports = 3
			session, err := dir.Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())

			events := drain(session)
			Expect(events).To(Equal([]protocol.Device{
				{Name: "Thermometer", Address: "AA:BB:CC:DD:EE:01"},
				{Name: protocol.UnknownDeviceName, Address: "AA:BB:CC:DD:EE:02"},
			}))
			devices, err := session.Result(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(Equal(events))
			Eventually(session.Done()).Should(BeClosed())
			Expect(dir.Active()).To(BeNil())
		})

		It("rejects a concurrent scan until the first completes", func() {
			adapter.InquiryDuration = time.Hour
			first, err := dir.Scan(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			_, err = dir.Scan(ctx, time.Second)
			Expect(err).To(MatchError(protocol.ErrScanAlreadyInProgress))
			Expect(protocol.Temporary(err)).To(BeTrue())

			first.Cancel()
			drain(first)
			_, err = first.Result(ctx)
			Expect(err).NotTo(HaveOccurred())

			adapter.InquiryDuration = 10 * time.Millisecond
			second, err := dir.Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			drain(second)
		})

		It("stops the adapter inquiry when cancelled", func() {
			adapter.InquiryDuration = time.Hour
			session, err := dir.Scan(ctx, time.Hour)
			Expect(err).NotTo(HaveOccurred())
			dir.CancelScan()
			drain(session)
			Eventually(session.Done()).Should(BeClosed())
			Expect(adapter.IsDiscovering(ctx)).To(BeFalse())
		})

		It("ends at the timeout when the adapter never finishes", func() {
			adapter.InquiryDuration = time.Hour
			session, err := dir.Scan(ctx, 30*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			drain(session)
			devices, err := session.Result(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(HaveLen(2))
			Expect(adapter.IsDiscovering(ctx)).To(BeFalse())
		})

		It("tears the session down when discovery cannot start", func() {
			adapter.FailDiscovery(errors.New("busy"))
			_, err := dir.Scan(ctx, time.Second)
			Expect(err).To(MatchError(protocol.ErrDiscoveryStartFailed))
			Expect(protocol.Reason(err)).To(Equal("busy"))
			Expect(dir.Active()).To(BeNil())

			adapter.FailDiscovery(nil)
			session, err := dir.Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			drain(session)
		})

		It("requires the scan capabilities", func() {
			policy.Revoke(permission.Location)
			_, err := dir.Scan(ctx, time.Second)
			Expect(err).To(MatchError(protocol.ErrPermissionDenied))
			Expect(policy.Pending()).To(ConsistOf(permission.Location))
			Expect(adapter.Inquiries()).To(BeZero())
		})

		It("does not require the connect capability", func() {
			policy.Revoke(permission.Connect)
			session, err := dir.Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			drain(session)
		})

		It("fails without an adapter", func() {
			_, err := directory.New(nil, nil, pool).Scan(ctx, time.Second)
			Expect(err).To(MatchError(protocol.ErrAdapterUnavailable))
		})
	})

	Context("adapter interaction", func() {
		var (
			ctrl *gomock.Controller
			mock *mocks.ConnectorAdapter
		)

		BeforeEach(func() {
			ctrl = gomock.NewController(GinkgoT())
			mock = mocks.NewConnectorAdapter(ctrl)
			DeferCleanup(ctrl.Finish)
		})

		It("cancels a running discovery before starting its own", func() {
			discovery := mocks.NewConnectorDiscovery(ctrl)
			found := make(chan protocol.Device)
			finished := make(chan struct{})
			close(finished)
			discovery.EXPECT().Found().Return((<-chan protocol.Device)(found)).AnyTimes()
			discovery.EXPECT().Finished().Return((<-chan struct{})(finished)).AnyTimes()
			discovery.EXPECT().Stop().Return(nil)
			gomock.InOrder(
				mock.EXPECT().CancelDiscovery(gomock.Any()).Return(nil),
				mock.EXPECT().StartDiscovery(gomock.Any()).Return(discovery, nil),
			)

			session, err := directory.New(mock, nil, pool).Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			devices, err := session.Result(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(BeEmpty())
		})

		It("passes adapter loss through unchanged", func() {
			mock.EXPECT().CancelDiscovery(gomock.Any()).Return(nil)
			mock.EXPECT().StartDiscovery(gomock.Any()).Return(nil, protocol.ErrAdapterUnavailable)
			_, err := directory.New(mock, nil, pool).Scan(ctx, time.Second)
			Expect(err).To(MatchError(protocol.ErrAdapterUnavailable))
			Expect(err).NotTo(MatchError(protocol.ErrDiscoveryStartFailed))
		})

		It("exposes a session that is still starting", func() {
			release := make(chan struct{})
			mock.EXPECT().CancelDiscovery(gomock.Any()).Return(nil)
			mock.EXPECT().StartDiscovery(gomock.Any()).DoAndReturn(func(context.Context) (connector.Discovery, error) {
				<-release
				return nil, errors.New("radio busy")
			})
			d := directory.New(mock, nil, pool)
			failed := make(chan error, 1)
			go func() {
				_, err := d.Scan(ctx, time.Second)
				failed <- err
			}()

			Eventually(d.Active).ShouldNot(BeNil())
			active := d.Active()
			short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			devices, err := active.Result(short)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(devices).To(BeEmpty())

			close(release)
			Eventually(failed).Should(Receive(MatchError(protocol.ErrDiscoveryStartFailed)))
			Eventually(active.Done()).Should(BeClosed())
			_, err = active.Result(ctx)
			Expect(err).To(MatchError("radio busy"))
			Expect(d.Active()).To(BeNil())
		})

		It("reports the result of the running session", func() {
			discovery := mocks.NewConnectorDiscovery(ctrl)
			found := make(chan protocol.Device, 1)
			found <- protocol.Device{Name: "Scale", Address: "aa:bb:cc:dd:ee:01"}
			finished := make(chan struct{})
			discovery.EXPECT().Found().Return((<-chan protocol.Device)(found)).AnyTimes()
			discovery.EXPECT().Finished().Return((<-chan struct{})(finished)).AnyTimes()
			discovery.EXPECT().Stop().Return(nil)
			mock.EXPECT().CancelDiscovery(gomock.Any()).Return(nil)
			mock.EXPECT().StartDiscovery(gomock.Any()).Return(discovery, nil)

			d := directory.New(mock, nil, pool)
			session, err := d.Scan(ctx, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Active()).To(BeIdenticalTo(session))
			Expect(<-session.Events()).To(Equal(protocol.Device{Name: "Scale", Address: "AA:BB:CC:DD:EE:01"}))
			close(finished)
			devices, err := session.Result(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(devices).To(HaveLen(1))
			Eventually(d.Active).Should(BeNil())
		})

		It("reports enumeration failures as adapter errors", func() {
			mock.EXPECT().BondedDevices(gomock.Any()).Return(nil, errors.New("dbus: connection closed"))
			_, err := directory.New(mock, nil, pool).ListPaired(ctx)
			Expect(protocol.KindOf(err)).To(Equal(protocol.KindAdapterUnavailable))
		})
	})
})
