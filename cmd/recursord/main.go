// Command recursord runs the recursor as a DNS server answering
// recursive queries over UDP and TCP.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	recursor "github.com/nresare/recursive-resolver"
)

type server struct {
	recursor *recursor.Recursor
	timeout  time.Duration
	log      *logrus.Logger
}

func (s *server) handle(w dns.ResponseWriter, req *dns.Msg) {
	if len(req.Question) != 1 {
		reply := new(dns.Msg)
		reply.SetRcode(req, dns.RcodeFormatError)
		_ = w.WriteMsg(reply)
		return
	}
	q := req.Question[0]
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	msg, err := s.recursor.Resolve(ctx, q.Name, q.Qtype)
	fields := logrus.Fields{
		"qname":  q.Name,
		"qtype":  dns.Type(q.Qtype).String(),
		"remote": w.RemoteAddr().String(),
		"took":   time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Warn("resolution failed")
		_ = w.WriteMsg(servfail(req, err))
		return
	}
	s.log.WithFields(fields).WithField("rcode", dns.RcodeToString[msg.Rcode]).Info("resolved")

	reply := msg.Copy()
	reply.SetRcode(req, msg.Rcode)
	reply.RecursionAvailable = true
	_ = w.WriteMsg(reply)
}

// servfail builds a SERVFAIL response carrying an RFC 8914 Extended
// DNS Error option describing the failure.
func servfail(req *dns.Msg, err error) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetRcode(req, dns.RcodeServerFailure)
	reply.RecursionAvailable = true
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(1232)
	opt.Option = append(opt.Option, &dns.EDNS0_EDE{
		InfoCode:  recursor.ExtendedErrorCodeFromError(err),
		ExtraText: err.Error(),
	})
	reply.Extra = append(reply.Extra, opt)
	return reply
}

func main() {
	listen := flag.String("listen", ":53", "address to listen on")
	timeout := flag.Duration("timeout", 15*time.Second, "per-query resolution deadline")
	verbose := flag.Bool("verbose", false, "log every resolution step")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	r := recursor.New(recursor.WithLogger(log), recursor.WithSelector(recursor.NewRTTSelector()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	r.OrderRoots(ctx, 100*time.Millisecond)
	cancel()

	s := &server{recursor: r, timeout: *timeout, log: log}
	dns.HandleFunc(".", s.handle)

	errs := make(chan error, 2)
	for _, net := range []string{"udp", "tcp"} {
		srv := &dns.Server{Addr: *listen, Net: net}
		go func() { errs <- srv.ListenAndServe() }()
		log.WithFields(logrus.Fields{"addr": *listen, "net": net}).Info("listening")
	}
	log.Fatal(<-errs)
}
