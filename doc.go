// Package ftp implements an FTP client with support for plain FTP and FTPS.
//
// # Overview
//
// A Client drives one control connection and opens a new data connection
// for every transfer, in passive mode by default (PASV, or EPSV on IPv6)
// or in active mode (PORT/EPRT) with WithActiveMode. TLS runs through the
// securetransport package, separately on the control channel and on each
// data channel; data channels resume the control channel's TLS session,
// which servers such as vsftpd and ProFTPD require.
//
// Every operation locks the client for its duration, so commands never
// interleave. An idle client sends NOOP once a minute unless WithKeepAlive
// says otherwise.
//
// # Basic Usage
//
//	client, err := ftp.Dial("ftp.example.com:21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	if err := client.Login("username", "password"); err != nil {
//	    log.Fatal(err)
//	}
//
// # TLS Support
//
// Explicit TLS connects on port 21 and upgrades with AUTH TLS:
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//
// Implicit TLS handshakes right after connecting, usually on port 990:
//
//	client, err := ftp.Dial("ftp.example.com:990", ftp.WithImplicitTLS(nil))
//
// Sessions are cached per client by default. WithSessionCache shares a
// cache between clients, for example a securetransport.RedisSessionCache
// shared between processes.
//
// # Transfers
//
// Retrieve and Store copy between the data connection and an io.Writer or
// io.Reader. RetrieveFunc and StoreFunc hand the data stream to a callback;
// if the callback fails, the transfer is aborted with ABOR and the client
// stays usable:
//
//	err := client.RetrieveFunc("big.log", func(r io.Reader) error {
//	    _, err := io.CopyN(os.Stdout, r, 1024)
//	    return err
//	})
//
// # Errors
//
// Failure replies are returned as *ProtocolError. Replies the client cannot
// parse are *MalformedReplyError. After an I/O failure the client returns
// ErrConnectionBroken from every call and must be replaced; expired
// deadlines surface as *TimeoutError.
//
//	var pe *ftp.ProtocolError
//	if errors.As(err, &pe) && pe.IsTemporary() {
//	    // retry later
//	}
//
// # Observability
//
// WithLogger takes any logrus.FieldLogger and logs the conversation at
// debug level with passwords redacted. WithMetrics reports commands,
// replies, transferred bytes, aborts and TLS handshakes to Prometheus.
package ftp
