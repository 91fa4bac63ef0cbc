// Package factory maps backend names found in configuration to the
// constructors that build them.
//
//	reg := factory.NewRegistry[factory.Conf, io.Reader]("reader")
//	reg.MustRegister("file", func(_ context.Context, conf factory.Conf) (io.Reader, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return os.Open(c.Path)
//	})
//	r, err := reg.Create(ctx, "file", factory.Conf{"path": "foo"})
package factory
