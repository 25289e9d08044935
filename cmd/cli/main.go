package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	recursor "github.com/nresare/recursive-resolver"
)

func main() {
	qtypeFlag := flag.String("type", "A", "record type to query for")
	verbose := flag.Bool("verbose", false, "log every resolution step")
	timeout := flag.Duration("timeout", 15*time.Second, "overall resolution deadline")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: cli [-type TYPE] [-verbose] NAME")
		os.Exit(2)
	}
	qtype, ok := dns.StringToType[*qtypeFlag]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown record type %q\n", *qtypeFlag)
		os.Exit(2)
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	r := recursor.New(recursor.WithLogger(log), recursor.WithSelector(recursor.NewRTTSelector()))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	r.OrderRoots(ctx, 100*time.Millisecond)

	msg, err := r.Resolve(ctx, dns.Fqdn(flag.Arg(0)), qtype)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(msg)
}
