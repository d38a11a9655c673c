// Package dnsupdate provides an RFC 2136 Dynamic DNS Update client.
//
// A Client is bound to one zone on one server. Changes are collected in an
// Update and sent as a single UPDATE message, so a multi-record change either
// lands completely or not at all:
//
//	client, err := dnsupdate.NewClient(&dnsupdate.Config{
//	    Server: "ns1.example.com",
//	    Zone:   "example.com.",
//	})
//	if err != nil {
//	    return err
//	}
//
//	u := client.NewUpdate()
//	rec, _ := dnsupdate.AddressRecord("web1.example.com", "10.0.0.5", 300)
//	if err := u.Insert(rec); err != nil {
//	    return err
//	}
//	err = client.Send(ctx, u)
//
// # TSIG Authentication
//
// Updates are signed with TSIG (RFC 2845) when a key is configured, either
// directly (TSIGKeyName, TSIGSecret) or from a BIND key file read with
// ParseKeyFile. Generate a key with:
//
//	tsig-keygen -a hmac-sha256 dnsgate > dnsgate.key
package dnsupdate
