package interceptor_test

import (
	"log"
	"regexp"
	"strings"

	"github.com/Windscribe/interceptor"
)

// Send https clients back to plain http.
func ExampleServer_Intercept_redirect() {
	srv, err := interceptor.New(interceptor.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	srv.Intercept(interceptor.InterceptOptions{
		Phase:     "request",
		Predicate: interceptor.Predicate{Protocol: interceptor.String("https:")},
	}, interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
		c.Request.Protocol = "http:"
		c.Response.Fill(303, "text/plain", "")
		c.Response.Header.Set("Location", c.Request.FullURL())
		return nil
	}))
	log.Fatal(srv.Listen(":8080"))
}

// Flip every paragraph of html pages upside down.
func ExampleServer_Intercept_tree() {
	srv, err := interceptor.New(interceptor.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	srv.Intercept(interceptor.InterceptOptions{
		Phase:     "response",
		As:        "tree",
		Predicate: interceptor.Predicate{MimeType: interceptor.String("text/html")},
	}, interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
		tree := c.Response.Body.Tree()
		if tree.HTML == nil {
			return nil
		}
		for _, p := range tree.HTML.Find("p").Nodes {
			if p.FirstChild != nil {
				p.FirstChild.Data = reverse(p.FirstChild.Data)
			}
		}
		return nil
	}))
	log.Fatal(srv.Listen(":8080"))
}

// Log which jQuery versions the pages of a site pull in.
func ExampleServer_Intercept_jquery() {
	srv, err := interceptor.New(interceptor.DefaultOptions())
	if err != nil {
		log.Fatal(err)
	}
	version := regexp.MustCompile(`jquery[.-](\d+\.\d+(\.\d+)?)`)
	srv.Intercept(interceptor.InterceptOptions{
		Phase:     "response",
		As:        "string",
		Predicate: interceptor.Predicate{MimeType: interceptor.String("text/html")},
	}, interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
		for _, m := range version.FindAllStringSubmatch(c.Response.Body.String(), -1) {
			c.Infof("%s uses jquery %s", c.Request.FullURL(), m[1])
		}
		return nil
	}))
	srv.Log("info", log.Writer())
	log.Fatal(srv.Listen(":8080"))
}

func reverse(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return strings.TrimSpace(string(r))
}
