package pion

import (
	"net"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
	"github.com/videochat/groupcall/pkg/network/socket"
)

// ApiFactory makes peer connections that share the media setup.
type ApiFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
	mux  net.PacketConn
}

type ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)

// The forwarded media keeps the codecs of the publishers,
// so the list is short and fixed.
var (
	videoCodec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "goog-remb"}, {Type: "ccm", Parameter: "fir"}, {Type: "nack"}, {Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: 96,
	}
	audioCodec = webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
)

func NewApiFactory(conf config.Engine, log *logger.Logger, mod ModApiFun) (api *ApiFactory, err error) {
	m := &webrtc.MediaEngine{}
	if err = m.RegisterCodec(videoCodec, webrtc.RTPCodecTypeVideo); err != nil {
		return
	}
	if err = m.RegisterCodec(audioCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err = webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return
		}
	}
	if conf.PliInterval > 0 {
		var pli *intervalpli.ReceiverInterceptorFactory
		if pli, err = intervalpli.NewReceiverInterceptor(intervalpli.GeneratorInterval(conf.PliInterval)); err != nil {
			return
		}
		i.Add(pli)
	}

	customLogger := logger.NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	if conf.HasPortRange() {
		if err = s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return
		}
	}
	var mux net.PacketConn
	if conf.HasSinglePort() {
		var udp *net.UDPConn
		if udp, err = socket.NewUDPPortRoll("udp", conf.SinglePort); err != nil {
			return
		}
		mux = udp
		s.SetICEUDPMux(webrtc.NewICEUDPMux(customLogger, udp))
		log.Info().Msgf("The single port mode is active for %s", udp.LocalAddr())
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{conf.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}
	if conf.IceLite {
		s.SetLite(true)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range conf.IceServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &ApiFactory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
		mux:  mux,
	}, nil
}

func (a *ApiFactory) NewPeer() (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(a.conf)
}

// Close frees the shared UDP port.
func (a *ApiFactory) Close() error {
	if a.mux != nil {
		return a.mux.Close()
	}
	return nil
}
