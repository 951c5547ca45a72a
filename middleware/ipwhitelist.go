package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// IPWhitelist only allows requests from the listed addresses. Entries may be
// single IPs or CIDR ranges; unparsable entries are ignored. An empty list
// allows every address.
func IPWhitelist(entries []string) gin.HandlerFunc {
	var nets []*net.IPNet
	for _, e := range entries {
		if _, n, err := net.ParseCIDR(e); err == nil {
			nets = append(nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}
	return func(c *gin.Context) {
		if len(entries) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.ClientIP())
		for _, n := range nets {
			if ip != nil && n.Contains(ip) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}
