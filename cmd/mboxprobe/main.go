// mboxprobe queries the VideoCore firmware through the mailbox property interface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DerLukas15/rpimailbox"
)

func main() {
	cfg := rpimailbox.DefaultConfig()
	var (
		backend   string
		clock     uint
		rate      uint
		skipTurbo bool
		fb        bool
		verbose   bool
		attempts  int
	)
	flag.StringVar(&backend, "backend", "vcio", "How to reach the firmware (vcio, mmio)")
	flag.StringVar(&cfg.VCIODev, "vcio", cfg.VCIODev, "vcio character device")
	flag.StringVar(&cfg.MemDev, "mem", cfg.MemDev, "physical memory device used by the mmio backend")
	flag.Func("peripheral-base", "Peripheral base address (mmio backend)", func(s string) error {
		var v uint32
		if _, err := fmt.Sscan(s, &v); err != nil {
			return err
		}
		cfg.PeripheralBase = v
		return nil
	})
	flag.UintVar(&clock, "clock", 0, "Clock id to set, 0 leaves clocks alone")
	flag.UintVar(&rate, "rate", 0, "Clock rate in Hz for -clock")
	flag.BoolVar(&skipTurbo, "skip-turbo", false, "Do not let the firmware apply turbo settings")
	flag.BoolVar(&fb, "fb", false, "Allocate the framebuffer")
	flag.IntVar(&attempts, "poll-attempts", -1, fmt.Sprintf("Give up register polls after this many attempts, 0 spins forever. "+
		"Defaults to %d with mmio because the kernel mailbox driver may take the reply first", mmioPollAttempts))
	flag.BoolVar(&verbose, "v", false, "Debug logging")
	flag.Parse()

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	zaplogger := zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	defer zaplogger.Sync()
	log := zapr.NewLogger(zaplogger)
	setupLog := log.WithName("setup")

	client, closer, err := open(backend, cfg, attempts, log)
	if err != nil {
		setupLog.Error(err, "unable to reach firmware", "backend", backend)
		os.Exit(1)
	}
	defer closer()

	version := client.FirmwareVersion()
	if version == rpimailbox.FirmwareVersionUnknown {
		fmt.Println("firmware version: unknown")
	} else {
		fmt.Printf("firmware version: 0x%08X\n", version)
	}

	if clock != 0 {
		got := client.SetClockRate(rpimailbox.ClockID(clock), uint32(rate), skipTurbo)
		fmt.Printf("clock %d: requested %d Hz, running at %d Hz\n", clock, rate, got)
	}

	if fb {
		res := rpimailbox.NewFramebufferResource(client, log)
		f := res.Get()
		if !f.Initialized() {
			fmt.Println("framebuffer: not initialized")
			os.Exit(1)
		}
		fmt.Printf("framebuffer: %dx%d@%d at 0x%08X, %d bytes, pitch %d\n",
			f.Width(), f.Height(), f.Depth(), f.Buffer(), f.BufferSize(), f.Pitch())
	}
}

// The kernel's bcm2835 mailbox driver stays bound to the read FIFO, so its interrupt handler can consume
// a reply meant for us. Without a bound the mmio backend would then wait forever.
const mmioPollAttempts = 1 << 20

// pollerFor returns the poll strategy for backend. attempts < 0 selects the backend default.
func pollerFor(backend string, attempts int) rpimailbox.Poller {
	if attempts < 0 && backend == "mmio" {
		attempts = mmioPollAttempts
	}
	if attempts > 0 {
		return rpimailbox.Bounded{Attempts: attempts}
	}
	return rpimailbox.Spin{}
}

func open(backend string, cfg rpimailbox.Config, attempts int, log logr.Logger) (*rpimailbox.Client, func(), error) {
	vcio, err := rpimailbox.OpenVCIO(cfg.VCIODev, rpimailbox.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case "vcio":
		return rpimailbox.NewClient(vcio, rpimailbox.WithLogger(log)), func() { vcio.Close() }, nil
	case "mmio":
		regs, err := rpimailbox.OpenMailboxRegisters(cfg)
		if err != nil {
			vcio.Close()
			return nil, nil, err
		}
		mb := rpimailbox.NewMailbox(regs, rpimailbox.WithLogger(log), rpimailbox.WithPoller(pollerFor(backend, attempts)))
		// message memory comes from the firmware, so vcio stays open
		alloc := rpimailbox.UncachedAllocator{
			Transport: vcio,
			MemDev:    cfg.MemDev,
			Flags:     rpimailbox.UncachedMemFlagDirect | rpimailbox.UncachedMemFlagZero,
		}
		client := rpimailbox.NewClient(mb, rpimailbox.WithLogger(log), rpimailbox.WithAllocator(alloc))
		return client, func() {
			regs.Unmap()
			vcio.Close()
		}, nil
	default:
		vcio.Close()
		return nil, nil, errors.Errorf("unknown backend %q", backend)
	}
}
