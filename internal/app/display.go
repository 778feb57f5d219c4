package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/edaniels/golog"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/inertial_ahrs/internal/config"
	"github.com/relabs-tech/inertial_ahrs/internal/fusion"
)

// displayData holds the latest fused output for the OLED.
type displayData struct {
	mu   sync.RWMutex
	out  fusion.Output
	have bool
}

func (d *displayData) set(out fusion.Output) {
	d.mu.Lock()
	d.out = out
	d.have = true
	d.mu.Unlock()
}

func (d *displayData) get() (fusion.Output, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.out, d.have
}

// RunDisplay shows the fused attitude on an SSD1306 until ctx is done.
func RunDisplay(ctx context.Context) error {
	logger := golog.NewLogger("display")
	defer logger.Sync()
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	logger.Infof("display initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		logger.Warnf("error showing splash: %v", err)
	}

	data := &displayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	token := client.Subscribe(cfg.TopicPoseFused, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var out fusion.Output
		if err := json.Unmarshal(msg.Payload(), &out); err != nil {
			logger.Warnf("fused output unmarshal error: %v", err)
			return
		}
		data.set(out)
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	logger.Infof("subscribed to %s", cfg.TopicPoseFused)

	ticker := time.NewTicker(millis(cfg.DisplayUpdateInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return dev.Halt()
		case <-ticker.C:
		}
		out, have := data.get()
		if err := dev.Draw(dev.Bounds(), renderAttitude(out, have), image.Point{}); err != nil {
			logger.Warnf("error updating display: %v", err)
		}
	}
}

// addrBus sends every transaction to addr. The ssd1306 driver always
// talks to 0x3C, this lets boards strapped to 0x3D work too.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func renderAttitude(out fusion.Output, have bool) *image1bit.VerticalLSB {
	img, d := newCanvas()
	if !have {
		drawLine(d, 0, 26, "Attitude")
		drawLine(d, 0, 39, "Waiting...")
		return img
	}

	held := ""
	if out.Held {
		held = " H"
	}
	drawLine(d, 0, 13, fmt.Sprintf("R:%6.1f P:%6.1f", out.Pose.Roll, out.Pose.Pitch))
	drawLine(d, 0, 26, fmt.Sprintf("Y:%6.1f%s", out.Pose.Yaw, held))
	la := out.LinearAccel
	drawLine(d, 0, 39, fmt.Sprintf("ax%+5.2f ay%+5.2f", la.X, la.Y))
	drawLine(d, 0, 52, fmt.Sprintf("az%+5.2f g", la.Z))
	return img
}

func renderSplash() *image1bit.VerticalLSB {
	img, d := newCanvas()
	drawLine(d, 10, 26, "Inertial Pi")
	drawLine(d, 20, 43, "AHRS")
	return img
}
